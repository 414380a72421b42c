package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/erp/posconnector/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWT context keys
const (
	JWTClaimsKey  = "jwt_claims"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// Token errors
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// OperatorClaims are the claims of an operator token. The subject names
// the operator driving the connector.
type OperatorClaims struct {
	jwt.RegisteredClaims
}

// JWTConfig holds configuration for the JWT middleware
type JWTConfig struct {
	// Secret is the HS256 signing key
	Secret []byte
	// Issuer, when set, must match the iss claim
	Issuer string
	// SkipPaths are paths that don't require authentication
	SkipPaths []string
	Logger    *zap.Logger
}

// JWTAuth validates the bearer token of every request and stores its claims
// in the gin context. Invalid requests are aborted with 401.
func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	parser := jwt.NewParser(parserOptions(cfg)...)
	keyFunc := func(*jwt.Token) (any, error) { return cfg.Secret, nil }

	return func(c *gin.Context) {
		for _, skipPath := range cfg.SkipPaths {
			if c.Request.URL.Path == skipPath {
				c.Next()
				return
			}
		}

		tokenString, ok := strings.CutPrefix(c.GetHeader(AuthHeaderKey), BearerPrefix)
		if !ok || tokenString == "" {
			abortUnauthorized(c, cfg, ErrMissingToken)
			return
		}

		claims := &OperatorClaims{}
		if _, err := parser.ParseWithClaims(tokenString, claims, keyFunc); err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				abortUnauthorized(c, cfg, ErrExpiredToken)
				return
			}
			abortUnauthorized(c, cfg, ErrInvalidToken)
			return
		}

		c.Set(JWTClaimsKey, claims)
		if cfg.Logger != nil {
			cfg.Logger.Debug("JWT authentication successful", zap.String("subject", claims.Subject))
		}
		c.Next()
	}
}

func parserOptions(cfg JWTConfig) []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return opts
}

func abortUnauthorized(c *gin.Context, cfg JWTConfig, err error) {
	if cfg.Logger != nil {
		cfg.Logger.Warn("JWT authentication failed",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
		)
	}

	code, message := dto.ErrCodeUnauthorized, "Authentication required"
	switch {
	case errors.Is(err, ErrExpiredToken):
		code, message = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, ErrInvalidToken):
		message = "Invalid token"
	}
	c.Header("WWW-Authenticate", `Bearer realm="posconnector"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(code, message, c.GetHeader(RequestIDKey)))
}

// GetOperatorClaims returns the claims stored by JWTAuth, nil without them
func GetOperatorClaims(c *gin.Context) *OperatorClaims {
	if claims, exists := c.Get(JWTClaimsKey); exists {
		if operator, ok := claims.(*OperatorClaims); ok {
			return operator
		}
	}
	return nil
}
