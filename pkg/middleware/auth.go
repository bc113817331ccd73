package middleware

import (
	"errors"
	"net/http"

	apperrors "herenow/pkg/errors"
	"herenow/pkg/identity"
	"herenow/pkg/logger"
)

type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Authenticate verifies the bearer token, when one is sent, and attaches the
// user id to the context. Requests without a token continue anonymously and
// are turned away by handlers that need a user. Browsers cannot set headers
// on a websocket handshake, so upgrades may pass the token as ?token=.
func Authenticate(verifier TokenVerifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := identity.BearerToken(r.Header.Get("Authorization"))
			if errors.Is(err, identity.ErrMissingToken) && IsWebSocketUpgrade(r) {
				token = r.URL.Query().Get("token")
			}

			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				log.Warn("Authentication failed",
					"request_id", requestIDFrom(r),
					"path", r.URL.Path,
					"error", err,
				)
				_ = apperrors.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), userID)))
		})
	}
}
