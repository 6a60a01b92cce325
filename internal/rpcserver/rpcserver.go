// Package rpcserver exposes the build/execute/status operations over
// JSON-RPC-over-HTTP, the transport the reference service's clients
// speak. Gin provides routing and middleware; the JSON-RPC envelope
// itself (method/params/id, numeric error codes) is handled by this
// package directly since gin has no opinion on RPC framing.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
	"github.com/ChoSanghyuk/paymaster/internal/execution"
	"github.com/ChoSanghyuk/paymaster/internal/lock"
	"github.com/ChoSanghyuk/paymaster/internal/metrics"
	"github.com/ChoSanghyuk/paymaster/internal/prices"
	"github.com/ChoSanghyuk/paymaster/internal/servicelog"
	"github.com/ChoSanghyuk/paymaster/internal/sponsoring"
)

const componentName = "RPCServer"

const apiKeyHeader = "x-paymaster-api-key"

// Configuration is the subset of the top-level config the server needs
// directly; everything else is reached through the already-constructed
// components passed to New.
type Configuration struct {
	ListenAddr          string
	SupportedTokens     []common.Address
	BlacklistedAddresses []common.Address
}

// Server wires the gin engine to the execution pipeline, sponsoring
// authenticator and chain client.
type Server struct {
	cfg       Configuration
	engine    *gin.Engine
	executor  *execution.Executor
	builder   *execution.Builder
	chain     *chain.Client
	prices    *prices.Client
	sponsors  *sponsoring.Client
	locks     lock.Layer
	gasTank   common.Address
	forwarder common.Address
	blacklist map[common.Address]bool
}

func New(cfg Configuration, builder *execution.Builder, executor *execution.Executor, chainClient *chain.Client, priceClient *prices.Client, sponsors *sponsoring.Client, locks lock.Layer, gasTank, forwarder common.Address) *Server {
	blacklist := make(map[common.Address]bool, len(cfg.BlacklistedAddresses))
	for _, a := range cfg.BlacklistedAddresses {
		blacklist[a] = true
	}

	s := &Server{
		cfg:       cfg,
		builder:   builder,
		executor:  executor,
		chain:     chainClient,
		prices:    priceClient,
		sponsors:  sponsors,
		locks:     locks,
		gasTank:   gasTank,
		forwarder: forwarder,
		blacklist: blacklist,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(metricsMiddleware())
	engine.POST("/", s.handleRPC)
	engine.GET("/health", s.handleHealth)

	s.engine = engine
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		servicelog.Infof(componentName, "listening on %s", s.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+apiKeyHeader)
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		method, _ := c.Get(ctxMethodKey)
		name, _ := method.(string)
		if name == "" {
			name = "unknown"
		}
		metrics.RPCRequests.WithLabelValues(name).Inc()
		metrics.RPCRequestDuration.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
		if status, _ := c.Get(ctxErroredKey); status == true {
			metrics.RPCRequestErrors.WithLabelValues(name).Inc()
		}
	}
}

const (
	ctxMethodKey  = "rpc_method"
	ctxErroredKey = "rpc_errored"
)

// handleHealth is the GET /health alias for the paymaster_health RPC
// method: it dispatches through the same path so both surfaces stay in
// sync rather than maintaining two separate liveness checks.
func (s *Server) handleHealth(c *gin.Context) {
	result, err := s.dispatch(c.Request.Context(), methodHealth, nil, "")
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": false})
		return
	}
	c.JSON(http.StatusOK, result)
}

// request is the JSON-RPC 2.0 envelope. Params may arrive either as a
// single-element positional array or as a bare object; normalizeParams
// folds the latter into the former so every handler only deals with one
// shape.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleRPC(c *gin.Context) {
	var req request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "invalid JSON-RPC request"}})
		return
	}

	c.Set(ctxMethodKey, req.Method)

	params, err := normalizeParams(req.Params)
	if err != nil {
		s.writeError(c, req.ID, codeInvalidParams, err)
		return
	}

	apiKey := c.GetHeader(apiKeyHeader)

	result, err := s.dispatch(c.Request.Context(), req.Method, params, apiKey)
	if err != nil {
		s.writeError(c, req.ID, codeFor(err), err)
		return
	}

	c.JSON(http.StatusOK, response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

// normalizeParams wraps a bare JSON object into a single-element array
// so build/execute handlers can always index params[0], matching
// clients that send named params instead of positional ones.
func normalizeParams(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return []json.RawMessage{raw}, nil
	}

	return nil, errors.New("params must be an array or an object")
}

func (s *Server) writeError(c *gin.Context, id json.RawMessage, code int, err error) {
	c.Set(ctxErroredKey, true)
	c.JSON(http.StatusOK, response{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: err.Error()}, ID: id})
}

func firstParam(params []json.RawMessage) (json.RawMessage, error) {
	if len(params) == 0 {
		return nil, errors.New("missing required params")
	}
	return params[0], nil
}

func bigIntFromString(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	return n, ok
}
