package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const ownerContextKey contextKey = "owner"

// Credential is the parsed bearer credential. The relay only checks its
// shape and extracts the owner id; validating the token against the
// identity provider is an external collaborator's job.
type Credential struct {
	Scheme  string // e.g. "github"
	OwnerID string
	Token   string
}

// RequireBearer parses the Authorization header in the form
// "Bearer <scheme>|<owner_id>|<token>" and rejects with 401 before any
// other processing when it is missing or malformed.
func RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			jsonError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		parts := strings.Split(token, "|")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			jsonError(w, http.StatusUnauthorized, "invalid token format")
			return
		}

		cred := &Credential{Scheme: parts[0], OwnerID: parts[1], Token: parts[2]}
		ctx := context.WithValue(r.Context(), ownerContextKey, cred)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCredential retrieves the parsed credential from the request context.
func GetCredential(ctx context.Context) *Credential {
	cred, ok := ctx.Value(ownerContextKey).(*Credential)
	if !ok {
		return nil
	}
	return cred
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
