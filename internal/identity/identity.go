// Package identity gives every device a stable anonymous player identity.
//
// A device holds a secret credential in a cookie or the X-Player-ID header.
// Everything the server stores or shows other players uses the public id
// derived from it, which cannot be turned back into the credential.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CookieName = "guesswho_player_id"
	HeaderName = "X-Player-ID"
	cookieAge  = 365 * 24 * time.Hour

	publicIDPrefix = "p_"
	publicIDBytes  = 12
)

type contextKey int

const playerIDKey contextKey = iota

var credentialPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// PlayerIDFromContext returns the public player id set by Middleware, or "".
func PlayerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(playerIDKey).(string); ok {
		return v
	}
	return ""
}

func WithPlayerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, playerIDKey, id)
}

func NewCredential() string {
	return "anon_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func IsCredential(s string) bool {
	return credentialPattern.MatchString(s)
}

// PublicID derives the id other players see from a credential.
func PublicID(secret []byte, credential string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(credential))
	return publicIDPrefix + hex.EncodeToString(mac.Sum(nil)[:publicIDBytes])
}

// Middleware signs the caller in: a valid credential from the header or cookie
// is reused, otherwise a new one is issued. The credential is echoed back in
// both places so native clients can persist it; handlers only see the public id.
func Middleware(secret []byte, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := strings.TrimSpace(r.Header.Get(HeaderName))
			if !IsCredential(credential) {
				credential = ""
				if c, err := r.Cookie(CookieName); err == nil && IsCredential(c.Value) {
					credential = c.Value
				}
			}
			if credential == "" {
				credential = NewCredential()
			}

			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    credential,
				Path:     "/",
				MaxAge:   int(cookieAge.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   secure,
			})
			w.Header().Set(HeaderName, credential)

			next.ServeHTTP(w, r.WithContext(WithPlayerID(r.Context(), PublicID(secret, credential))))
		})
	}
}
