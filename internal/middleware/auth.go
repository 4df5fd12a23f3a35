// internal/middleware/auth.go
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mkrivacevic11921rn/settlement-core/internal/auth"
)

type ctxKey string

const ctxServiceKey ctxKey = "svc"

// Service returns the caller identity set by the auth middleware.
func Service(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxServiceKey).(string)
	return v, ok
}

type AuthMiddleware struct {
	TM *auth.TokenManager
}

func NewAuthMiddleware(tm *auth.TokenManager) *AuthMiddleware {
	return &AuthMiddleware{TM: tm}
}

type errResp struct {
	Error string `json:"error"`
}

func (m *AuthMiddleware) writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errResp{Error: msg})
}

// Auth accepts "Bearer <JWT>" service tokens only.
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			m.writeErr(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])

		claims, err := m.TM.Parse(token)
		if err != nil {
			m.writeErr(w, http.StatusUnauthorized, "invalid service token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxServiceKey, claims.Service)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
