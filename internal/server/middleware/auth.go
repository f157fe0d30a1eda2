package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jamesacres/bubblyclouds-auth/internal/artifact"
	"github.com/jamesacres/bubblyclouds-auth/internal/db"
	"gorm.io/gorm"
)

// AccountParam is the route parameter AdminAuth compares token owners against.
const AccountParam = "accountId"

// AdminAuth admits requests carrying the admin API key, or a live access
// token issued to the account named in the route.
func AdminAuth(database *gorm.DB, accessTokens *artifact.Store) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				token = r.Header.Get("x-api-key")
			}
			if token == "" {
				unauthorized(w, "Missing credentials")
				return
			}

			// Admin key
			if expected := db.GetAdminKey(database); expected != "" &&
				subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			// Access token owned by the target account
			accountID := chi.URLParam(r, AccountParam)
			if accessTokens != nil && accountID != "" {
				if p, ok := accessTokens.Find(r.Context(), token); ok && p.String("accountId") == accountID {
					next.ServeHTTP(w, r)
					return
				}
			}

			log.Printf("[Auth] ⚠️ rejected %s %s", r.Method, r.URL.Path)
			unauthorized(w, "Invalid credentials")
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": {"message": "` + msg + `", "type": "authentication_error"}}`))
}
