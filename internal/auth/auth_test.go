package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testKey returns a key and its low-cost hash so tests stay fast.
func testKey(t *testing.T) (string, []byte) {
	t.Helper()
	key := APIKeyPrefix + RandomHex(apiKeyBytes)
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return key, hash
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, APIKeyPrefix))
	assert.Len(t, key, len(APIKeyPrefix)+2*apiKeyBytes)
	assert.NoError(t, ValidateHash(hash))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)))
}

func TestValidateHash_Rejects(t *testing.T) {
	assert.Error(t, ValidateHash("plain-text"))
}

func TestKeyStore_Validate(t *testing.T) {
	aliceKey, aliceHash := testKey(t)
	bobKey, bobHash := testKey(t)

	ks := NewKeyStore([]APIKey{
		{UserID: "alice", Hash: aliceHash},
		{UserID: "bob", Hash: bobHash},
	})
	assert.Equal(t, 2, ks.Len())

	user, ok := ks.Validate(bobKey)
	require.True(t, ok)
	assert.Equal(t, "bob", user)

	// Second lookup is served from the verified cache.
	user, ok = ks.Validate(aliceKey)
	require.True(t, ok)
	assert.Equal(t, "alice", user)
	user, ok = ks.Validate(aliceKey)
	require.True(t, ok)
	assert.Equal(t, "alice", user)

	_, ok = ks.Validate(APIKeyPrefix + RandomHex(apiKeyBytes))
	assert.False(t, ok)

	_, ok = ks.Validate("ds_short")
	assert.False(t, ok)

	_, ok = ks.Validate(strings.TrimPrefix(aliceKey, APIKeyPrefix))
	assert.False(t, ok)
}

func TestMiddleware(t *testing.T) {
	key, hash := testKey(t)
	ks := NewKeyStore([]APIKey{{UserID: "alice", Hash: hash}})

	var gotUser, gotIP string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = RequestUserID(r.Context())
		gotIP = RequestRemoteIP(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(ks, discardLogger())(inner)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantAuth   string
	}{
		{name: "no header", wantStatus: http.StatusUnauthorized, wantAuth: `Bearer realm="docsync"`},
		{name: "basic auth", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantAuth: `Bearer realm="docsync"`},
		{name: "wrong key", header: "Bearer " + APIKeyPrefix + RandomHex(apiKeyBytes), wantStatus: http.StatusUnauthorized, wantAuth: `Bearer realm="docsync", error="invalid_token"`},
		{name: "valid key", header: "Bearer " + key, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			req.RemoteAddr = "10.0.0.5:5555"
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantAuth, rec.Header().Get("WWW-Authenticate"))
		})
	}

	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "10.0.0.5", gotIP)
}
