package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-engine/internal/pkg/apperror"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("callback-secret")
	body := []byte(`{"provider_ref":"SBX-000001","status":"SUCCESS"}`)
	sig := Sign(secret, body)

	assert.True(t, VerifySignature(secret, body, sig))
	assert.True(t, VerifySignature(secret, body, "sha256="+sig))
	assert.False(t, VerifySignature([]byte("other"), body, sig))
	assert.False(t, VerifySignature(secret, []byte(`{"provider_ref":"SBX-000002"}`), sig))
	assert.False(t, VerifySignature(secret, body, "not-hex"))
	assert.False(t, VerifySignature(nil, body, Sign(nil, body)))
}

func TestParseCallback(t *testing.T) {
	cb, err := ParseCallback([]byte(`{"provider_ref":" SBX-000001 ","status":"SUCCESS","settled_at":"2026-01-02T10:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "SBX-000001", cb.ProviderRef)
	assert.Equal(t, StatusSuccess, cb.Status)
	assert.Equal(t, time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC), cb.SettledAt)

	assert.Empty(t, cb.Reference)

	cb, err = ParseCallback([]byte(`{"provider_ref":"SBX-000001","reference":" tx-1 ","status":"FAILED"}`))
	require.NoError(t, err)
	assert.False(t, cb.SettledAt.IsZero())
	assert.Equal(t, "tx-1", cb.Reference)

	_, err = ParseCallback([]byte(`{"provider_ref":"SBX-000001","status":"PENDING"}`))
	assert.True(t, apperror.IsValidation(err))

	_, err = ParseCallback([]byte(`{"status":"SUCCESS"}`))
	assert.True(t, apperror.IsValidation(err))

	_, err = ParseCallback([]byte(`not json`))
	assert.True(t, apperror.IsValidation(err))
}
