package middleware

import (
	"log/slog"
	"net/http"

	"github.com/studioai/studio-bff/internal/api/response"
	"github.com/studioai/studio-bff/internal/identity"
)

// User-facing messages shown by the mobile app.
const (
	MsgAuthRequired = "Kimlik doğrulama gerekli"
	MsgInvalidToken = "Geçersiz token veya doğrulama hatası"
)

const tokenLogPrefix = 10

// FirebaseAuth verifies the caller's Firebase ID token.
type FirebaseAuth struct {
	verifier identity.Verifier
}

// NewFirebaseAuth creates a new FirebaseAuth middleware.
func NewFirebaseAuth(v identity.Verifier) *FirebaseAuth {
	return &FirebaseAuth{verifier: v}
}

// Authenticate rejects requests without a Bearer token (401) or with a
// token that fails verification (403), and stores the UID in the context.
func (a *FirebaseAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", MsgAuthRequired, nil)
			return
		}

		id, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			slog.Warn("token verification failed",
				"token_prefix", truncate(token, tokenLogPrefix),
				"path", r.URL.Path,
				"error", err,
			)
			response.Error(w, http.StatusForbidden, "INVALID_TOKEN", MsgInvalidToken, nil)
			return
		}

		slog.Info("authenticated request", "uid", id.UID, "email", id.Email, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), id.UID)))
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
