package middleware

import (
	"context"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/wadispatch/internal/logger"
	"github.com/jmehdipour/wadispatch/internal/model"
)

const (
	ctxUser = "user"
	ctxRPS  = "user_rps"
)

// UserLookup resolves an API key; (nil, nil) means unknown key.
type UserLookup interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.User, error)
}

// UserFromCtx returns the user set by APIKeyMiddleware.
func UserFromCtx(c echo.Context) (*model.User, bool) {
	u, ok := c.Get(ctxUser).(*model.User)
	return u, ok && u != nil
}

// APIKeyMiddleware authenticates requests using the X-API-Key header and
// blocks suspended users.
func APIKeyMiddleware(users UserLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}

			u, err := users.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				logger.Log.Error("api key lookup failed", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}

			if u == nil || !u.Active() {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}

			c.Set(ctxUser, u)
			if u.RateLimitRPS != nil {
				c.Set(ctxRPS, *u.RateLimitRPS)
			}
			return next(c)
		}
	}
}
