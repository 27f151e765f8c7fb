package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const holderKey = "holder_id"

// HolderIdentity resolves the identity that owns seat holds for the
// request and stores it in the echo context. Authenticated customers
// present a bearer token issued by the auth service; its subject claim
// becomes the holder id. Guests identify themselves with an opaque
// X-Session-ID header generated by the frontend. Requests carrying
// neither are rejected, since every seat command needs an owner.
func HolderIdentity(jwtSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				raw := strings.TrimPrefix(auth, "Bearer ")
				sub, err := subjectFromToken(raw, jwtSecret)
				if err != nil {
					return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				}
				c.Set(holderKey, "user:"+sub)
				return next(c)
			}

			if sid := c.Request().Header.Get("X-Session-ID"); sid != "" {
				c.Set(holderKey, "guest:"+sid)
				return next(c)
			}

			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": "missing credentials: provide a bearer token or X-Session-ID",
			})
		}
	}
}

// OptionalHolderIdentity resolves the holder when credentials are
// present but never rejects the request. Used on read-only routes
// (seat map, event stream) that anonymous browsers may hit before
// picking seats.
func OptionalHolderIdentity(jwtSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				if sub, err := subjectFromToken(strings.TrimPrefix(auth, "Bearer "), jwtSecret); err == nil {
					c.Set(holderKey, "user:"+sub)
					return next(c)
				}
			}
			if sid := c.Request().Header.Get("X-Session-ID"); sid != "" {
				c.Set(holderKey, "guest:"+sid)
			}
			return next(c)
		}
	}
}

// HolderID returns the holder identity resolved by HolderIdentity, or
// an empty string when the middleware did not run on this route.
func HolderID(c echo.Context) string {
	if v, ok := c.Get(holderKey).(string); ok {
		return v
	}
	return ""
}

// subjectFromToken verifies the HMAC signature on an access token and
// extracts its subject. Only HS256 family tokens are accepted.
func subjectFromToken(raw, secret string) (string, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", jwt.ErrTokenInvalidSubject
	}
	return sub, nil
}
