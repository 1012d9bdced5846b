package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"chrona-backend/internal/model"
	"chrona-backend/pkg/apierror"
)

const KioskKeyHeader = "X-Kiosk-API-Key"

type kioskAuthenticator interface {
	AuthenticateKiosk(ctx context.Context, apiKey string, meta model.RequestMeta) (model.Kiosk, error)
}

// RequireKiosk authenticates the X-Kiosk-API-Key header and stores the
// resolved kiosk in the request context. A missing header goes through the
// authenticator too so the failure is audited like any other bad key.
func RequireKiosk(auth kioskAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(KioskKeyHeader))

			kiosk, err := auth.AuthenticateKiosk(r.Context(), key, RequestMeta(r))
			if err != nil {
				var apiErr *apierror.APIError
				if errors.As(err, &apiErr) {
					writeAPIError(w, apiErr)
					return
				}
				slog.Error("kiosk authentication error", "error", err)
				writeAPIError(w, apierror.New("INTERNAL_ERROR", "unexpected server error", "", http.StatusInternalServerError))
				return
			}

			ctx := context.WithValue(r.Context(), kioskContextKey, kiosk)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func KioskFromContext(ctx context.Context) (model.Kiosk, bool) {
	kiosk, ok := ctx.Value(kioskContextKey).(model.Kiosk)
	return kiosk, ok
}
