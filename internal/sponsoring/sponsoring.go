// Package sponsoring validates the API key a client presents when it
// wants its transaction fee covered by a sponsor instead of paying in a
// gas token itself. Three modes are supported: none (sponsoring
// disabled), self (a single static key compared in constant time), and
// webhook (delegate validation to an external HTTP endpoint, with the
// response cached per key).
package sponsoring

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ChoSanghyuk/paymaster/internal/common/cache"
)

var ErrInvalidAPIKey = errors.New("sponsoring: invalid API key")

// AuthenticatedAPIKey is the result of a successful validation: whether
// the key is accepted, and any sponsor-chosen metadata to attach to the
// transaction (e.g. a sponsor ID forwarded on chain).
type AuthenticatedAPIKey struct {
	Valid    bool
	Metadata []string
}

func invalidKey() AuthenticatedAPIKey { return AuthenticatedAPIKey{} }

// Mode selects which of the three authentication strategies is active.
type Mode string

const (
	ModeNone    Mode = "none"
	ModeSelf    Mode = "self"
	ModeWebhook Mode = "webhook"
)

// Configuration is the YAML-facing sponsoring block.
type Configuration struct {
	Mode       Mode
	APIKey     string   // ModeSelf
	Metadata   []string // ModeSelf
	WebhookURL string   // ModeWebhook
	Headers    map[string]string
}

// Authenticator is satisfied by each of the three mode implementations.
type Authenticator interface {
	Validate(ctx context.Context, key string) (AuthenticatedAPIKey, error)
}

// Client dispatches to the configured Authenticator.
type Client struct {
	auth Authenticator
}

func NewClient(cfg Configuration) (*Client, error) {
	var auth Authenticator
	switch cfg.Mode {
	case ModeNone, "":
		auth = noneAuthenticator{}
	case ModeSelf:
		a, err := newSelfAuthenticator(cfg.APIKey, cfg.Metadata)
		if err != nil {
			return nil, err
		}
		auth = a
	case ModeWebhook:
		auth = newWebhookAuthenticator(cfg.WebhookURL, cfg.Headers)
	default:
		return nil, fmt.Errorf("sponsoring: unknown mode %q", cfg.Mode)
	}
	return &Client{auth: auth}, nil
}

func (c *Client) Validate(ctx context.Context, key string) (AuthenticatedAPIKey, error) {
	result, err := c.auth.Validate(ctx, key)
	if err != nil {
		return AuthenticatedAPIKey{}, ErrInvalidAPIKey
	}
	if !result.Valid {
		return AuthenticatedAPIKey{}, ErrInvalidAPIKey
	}
	return result, nil
}

// --- none ---

type noneAuthenticator struct{}

func (noneAuthenticator) Validate(context.Context, string) (AuthenticatedAPIKey, error) {
	return invalidKey(), nil
}

// --- self ---

type selfAuthenticator struct {
	apiKey   string
	metadata []string
}

func newSelfAuthenticator(apiKey string, metadata []string) (*selfAuthenticator, error) {
	if !strings.HasPrefix(apiKey, "paymaster_") {
		return nil, errors.New(`sponsoring: API key must start with "paymaster_"`)
	}
	return &selfAuthenticator{apiKey: apiKey, metadata: metadata}, nil
}

func (a *selfAuthenticator) Validate(_ context.Context, key string) (AuthenticatedAPIKey, error) {
	if subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) == 1 {
		return AuthenticatedAPIKey{Valid: true, Metadata: a.metadata}, nil
	}
	return invalidKey(), nil
}

// --- webhook ---

type webhookAuthenticator struct {
	url     string
	headers map[string]string
	http    *http.Client

	cacheMu sync.RWMutex
	cache   map[string]*cache.SyncValue[AuthenticatedAPIKey]
}

func newWebhookAuthenticator(url string, headers map[string]string) *webhookAuthenticator {
	return &webhookAuthenticator{
		url:     url,
		headers: headers,
		http:    &http.Client{Timeout: 3 * time.Second},
		cache:   make(map[string]*cache.SyncValue[AuthenticatedAPIKey]),
	}
}

type webhookResponse struct {
	Valid      bool     `json:"valid"`
	Metadata   []string `json:"metadata"`
	CacheTTLMs int64    `json:"cache_ttl_ms"`
}

func (a *webhookAuthenticator) Validate(ctx context.Context, key string) (AuthenticatedAPIKey, error) {
	sv := a.syncValueFor(key)

	return sv.ReadOrRefreshWithTTL(func() (AuthenticatedAPIKey, time.Duration, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
		if err != nil {
			return AuthenticatedAPIKey{}, 0, err
		}
		req.Header.Set("x-paymaster-api-key", key)
		for k, v := range a.headers {
			req.Header.Set(k, v)
		}

		resp, err := a.http.Do(req)
		if err != nil {
			return AuthenticatedAPIKey{}, 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return AuthenticatedAPIKey{}, 0, fmt.Errorf("sponsoring: webhook returned status %d", resp.StatusCode)
		}

		var parsed webhookResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return AuthenticatedAPIKey{}, 0, fmt.Errorf("sponsoring: webhook response format: %w", err)
		}

		ttl := time.Duration(parsed.CacheTTLMs) * time.Millisecond
		if ttl <= 0 {
			ttl = 30 * time.Second
		}

		return AuthenticatedAPIKey{Valid: parsed.Valid, Metadata: parsed.Metadata}, ttl, nil
	})
}

func (a *webhookAuthenticator) syncValueFor(key string) *cache.SyncValue[AuthenticatedAPIKey] {
	a.cacheMu.RLock()
	sv, ok := a.cache[key]
	a.cacheMu.RUnlock()
	if ok {
		return sv
	}

	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	if sv, ok := a.cache[key]; ok {
		return sv
	}
	sv = cache.NewSyncValue[AuthenticatedAPIKey]()
	a.cache[key] = sv
	return sv
}
