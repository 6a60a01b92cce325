package sponsoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ModeNone_AlwaysInvalid(t *testing.T) {
	client, err := NewClient(Configuration{Mode: ModeNone})
	require.NoError(t, err)

	_, err = client.Validate(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestNewSelfAuthenticator_RejectsKeyWithoutPrefix(t *testing.T) {
	_, err := NewClient(Configuration{Mode: ModeSelf, APIKey: "wrong_prefix"})
	assert.Error(t, err)
}

func TestClient_ModeSelf_AcceptsMatchingKey(t *testing.T) {
	client, err := NewClient(Configuration{Mode: ModeSelf, APIKey: "paymaster_abc123", Metadata: []string{"sponsor-1"}})
	require.NoError(t, err)

	result, err := client.Validate(context.Background(), "paymaster_abc123")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, []string{"sponsor-1"}, result.Metadata)
}

func TestClient_ModeSelf_RejectsWrongKey(t *testing.T) {
	client, err := NewClient(Configuration{Mode: ModeSelf, APIKey: "paymaster_abc123"})
	require.NoError(t, err)

	_, err = client.Validate(context.Background(), "paymaster_wrong")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}
