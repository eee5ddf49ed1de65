package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and stores its subject and role under "user_id" and "role".  Tokens are
// issued by the member platform with HS256 and the shared secret; the
// engine only verifies them.
func JWTAuth(secret string) echo.MiddlewareFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	key := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			claims := jwt.MapClaims{}
			tok, err := parser.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, key)
			if err != nil || !tok.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			sub, err := claims.GetSubject()
			if err != nil || sub == "" {
				// numeric subjects are accepted as well
				if f, ok := claims["sub"].(float64); ok && f > 0 {
					c.Set("user_id", f)
				} else {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid claims")
				}
			} else {
				c.Set("user_id", sub)
			}
			c.Set("role", claims["role"])
			return next(c)
		}
	}
}
