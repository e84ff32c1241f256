package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Headers of the HMAC scheme. The signature covers timestamp || body.
const (
	APIKeyHeader    = "X-API-Key"
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"
	maxTimeSkew     = 60 // seconds
)

// AuthMiddleware provides HMAC-based authentication.
type AuthMiddleware struct {
	apiKey    string
	apiSecret string
	now       func() time.Time
}

// NewAuthMiddleware creates a new AuthMiddleware. An empty apiKey disables
// authentication.
func NewAuthMiddleware(apiKey, apiSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		now:       time.Now,
	}
}

// Sign returns the hex HMAC-SHA256 of timestamp || body under secret.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Wrap wraps an http.Handler with authentication.
func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m.apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !hmac.Equal([]byte(r.Header.Get(APIKeyHeader)), []byte(m.apiKey)) {
			http.Error(w, "Invalid API Key", http.StatusUnauthorized)
			return
		}

		timestampStr := r.Header.Get(TimestampHeader)
		if timestampStr == "" {
			http.Error(w, "Missing timestamp header", http.StatusUnauthorized)
			return
		}
		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil {
			http.Error(w, "Invalid timestamp format", http.StatusUnauthorized)
			return
		}
		skew := m.now().Unix() - timestamp
		if skew > maxTimeSkew || skew < -maxTimeSkew {
			http.Error(w, "Timestamp expired", http.StatusUnauthorized)
			return
		}

		requestSignature := r.Header.Get(SignatureHeader)
		if requestSignature == "" {
			http.Error(w, "Missing signature header", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusInternalServerError)
			return
		}
		// Restore the body so the next handler can read it
		r.Body = io.NopCloser(bytes.NewReader(body))

		expected := Sign(m.apiSecret, timestampStr, body)
		if !hmac.Equal([]byte(requestSignature), []byte(expected)) {
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
