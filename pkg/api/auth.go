package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/telekom/taskmail/pkg/apiresponses"
	"github.com/telekom/taskmail/pkg/config"
)

const (
	AuthHeaderKey = "Authorization"

	ContextUserID   = "user_id"
	ContextEmail    = "email"
	ContextUsername = "username"
)

var ErrMissingSecret = errors.New("token signing secret is not set")

// TokenAuth verifies HMAC-signed bearer tokens issued by the route layer.
type TokenAuth struct {
	secret   []byte
	disabled bool
	parser   *jwt.Parser
	log      *zap.SugaredLogger
}

// NewTokenAuth reads the signing secret from the environment variable named
// in cfg.Auth.SecretEnv. It fails when the secret is empty unless auth is
// disabled.
func NewTokenAuth(log *zap.SugaredLogger, cfg config.Config) (*TokenAuth, error) {
	if cfg.Auth.Disabled {
		log.Warn("auth.disabled=true: bearer tokens are NOT verified (local development only)")
		return &TokenAuth{disabled: true, log: log}, nil
	}
	secret := cfg.JWTSecret()
	if secret == "" {
		return nil, fmt.Errorf("%w: environment variable %s is empty", ErrMissingSecret, cfg.Auth.SecretEnv)
	}
	return &TokenAuth{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
		log:    log,
	}, nil
}

func (a *TokenAuth) keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	return a.secret, nil
}

func (a *TokenAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.disabled || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		authHeader := c.GetHeader(AuthHeaderKey)
		// delete the header to avoid logging it by accident
		c.Request.Header.Del(AuthHeaderKey)
		if !strings.HasPrefix(authHeader, "Bearer ") {
			apiresponses.RespondUnauthorized(c, "no Bearer token provided in Authorization header")
			c.Abort()
			return
		}

		claims := jwt.MapClaims{}
		if _, err := a.parser.ParseWithClaims(authHeader[7:], claims, a.keyfunc); err != nil {
			a.log.Debugw("Rejected bearer token", "error", err)
			apiresponses.RespondUnauthorized(c, "invalid token")
			c.Abort()
			return
		}

		setStringClaim(c, ContextUserID, claims["sub"])
		setStringClaim(c, ContextEmail, claims["email"])
		setStringClaim(c, ContextUsername, claims["preferred_username"])
		c.Next()
	}
}

func setStringClaim(c *gin.Context, key string, v any) {
	if s, ok := v.(string); ok && s != "" {
		c.Set(key, s)
	}
}
