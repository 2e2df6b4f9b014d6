package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const operatorKey = "operator"

// OperatorClaims identifies the operator behind a request. Operator wins over
// the registered subject when both are set.
type OperatorClaims struct {
	Operator string `json:"operator,omitempty"`
	jwt.RegisteredClaims
}

// OperatorMiddleware resolves who is acting. With a secret configured every
// request needs an HS256 bearer token; without one the X-Operator header is
// trusted and defaultOperator fills the gap.
func OperatorMiddleware(secret, defaultOperator string) gin.HandlerFunc {
	key := []byte(secret)

	return func(c *gin.Context) {
		if secret == "" {
			operator := strings.TrimSpace(c.GetHeader("X-Operator"))
			if operator == "" {
				operator = defaultOperator
			}
			c.Set(operatorKey, operator)
			c.Next()
			return
		}

		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("missing bearer token"))
			return
		}

		claims := &OperatorClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenUnverifiable
			}
			return key, nil
		})
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(msg))
			return
		}

		operator := claims.Operator
		if operator == "" {
			operator = claims.Subject
		}
		if operator == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("token carries no operator"))
			return
		}

		c.Set(operatorKey, operator)
		c.Next()
	}
}

func operatorFrom(c *gin.Context) string {
	return c.GetString(operatorKey)
}

// RequestLogger logs one line per request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request handled")
	}
}
