package dashboard

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
)

// jwtMiddleware requires a valid HS256 bearer token on the wrapped
// route, adapted from the teacher's pkg/web/middleware/auth/jwt.go:
// same header lookup and "Bearer <token>" split, narrowed to the one
// signing method and secret the dashboard actually configures.
func jwtMiddleware(secret string) Middleware {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(secret), nil
	}

	return func(next Handler) Handler {
		return func(ctx *fasthttp.RequestCtx, params map[string]string) {
			authHeader := string(ctx.Request.Header.Peek("Authorization"))
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(ctx)
				return
			}

			token, err := jwt.Parse(parts[1], keyFunc, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				unauthorized(ctx)
				return
			}
			next(ctx, params)
		}
	}
}

func unauthorized(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("WWW-Authenticate", `Bearer realm="flowmesh", error="invalid_token"`)
	writeError(ctx, fasthttp.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
}
