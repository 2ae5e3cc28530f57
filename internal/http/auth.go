package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	authorizationHeader = "Authorization"
	bearerType          = "bearer"
	subjectKey          = "auth_subject"
)

var ErrTokenInvalid = errors.New("invalid token")

// TokenAuth signs and checks HS256 tokens keyed by the node's ApiToken.
type TokenAuth struct {
	secret []byte
	nodeID string
}

func NewTokenAuth(secret, nodeID string) *TokenAuth {
	return &TokenAuth{secret: []byte(secret), nodeID: nodeID}
}

func (a *TokenAuth) Enabled() bool { return len(a.secret) > 0 }

func (a *TokenAuth) Issue(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", fmt.Errorf("%w: no signing secret configured", ErrTokenInvalid)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":     subject,
		"node_id": a.nodeID,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *TokenAuth) Validate(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: malformed token", ErrTokenInvalid)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: token expired", ErrTokenInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	if nodeID, _ := claims["node_id"].(string); nodeID != a.nodeID {
		return nil, fmt.Errorf("%w: token issued for another node", ErrTokenInvalid)
	}
	return claims, nil
}

// Middleware requires a valid bearer token. Without a secret every request passes.
func (a *TokenAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		fields := strings.Fields(c.GetHeader(authorizationHeader))
		if len(fields) != 2 || !strings.EqualFold(fields[0], bearerType) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("missing bearer token"))
			return
		}

		claims, err := a.Validate(fields[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(err.Error()))
			return
		}
		if sub, ok := claims["sub"].(string); ok {
			c.Set(subjectKey, sub)
		}
		c.Next()
	}
}
