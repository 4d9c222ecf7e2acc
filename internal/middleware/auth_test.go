package middleware

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/fastygo/taskledger/pkg/httpcontext"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func run(header string) (*fasthttp.RequestCtx, string) {
	var seen string
	handler := JWTAuth(secret, "taskledger", nil)(func(ctx *fasthttp.RequestCtx) {
		seen, _ = ctx.UserValue(httpcontext.UserValueActor).(string)
		ctx.SetStatusCode(fasthttp.StatusOK)
	})
	ctx := &fasthttp.RequestCtx{}
	if header != "" {
		ctx.Request.Header.Set("Authorization", header)
	}
	handler(ctx)
	return ctx, seen
}

func TestJWTAuth(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header func(t *testing.T) string
		status int
		actor  string
	}{
		{
			name: "subject claim",
			header: func(t *testing.T) string {
				return "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "parent", "iss": "taskledger", "exp": exp})
			},
			status: fasthttp.StatusOK,
			actor:  "parent",
		},
		{
			name: "actor_id claim without bearer prefix",
			header: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"actor_id": "kid", "iss": "taskledger", "exp": exp})
			},
			status: fasthttp.StatusOK,
			actor:  "kid",
		},
		{
			name:   "missing token",
			header: func(*testing.T) string { return "" },
			status: fasthttp.StatusUnauthorized,
		},
		{
			name: "wrong secret",
			header: func(t *testing.T) string {
				return "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "parent", "iss": "taskledger"})
			},
			status: fasthttp.StatusUnauthorized,
		},
		{
			name: "expired",
			header: func(t *testing.T) string {
				return "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "parent", "iss": "taskledger", "exp": time.Now().Add(-time.Hour).Unix()})
			},
			status: fasthttp.StatusUnauthorized,
		},
		{
			name: "foreign issuer",
			header: func(t *testing.T) string {
				return "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "parent", "iss": "elsewhere"})
			},
			status: fasthttp.StatusUnauthorized,
		},
		{
			name: "no actor",
			header: func(t *testing.T) string {
				return "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"iss": "taskledger"})
			},
			status: fasthttp.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, actor := run(tt.header(t))
			assert.Equal(t, tt.status, ctx.Response.StatusCode())
			assert.Equal(t, tt.actor, actor)
		})
	}
}
