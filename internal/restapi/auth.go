package restapi

import (
	"context"
	"net/http"
	"strings"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			s.audit.AuthFailure(r.RemoteAddr, r.URL.Path, "missing bearer token")
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		if s.limits != nil && !s.limits.Allow(raw) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		tok, machine, err := s.meta.ValidateToken(hashToken(raw))
		if err != nil {
			s.logger.Error(err, "token validation failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if tok == nil || machine == nil {
			s.audit.AuthFailure(r.RemoteAddr, r.URL.Path, "invalid or expired token")
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), machineCtxKey, machine)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}
