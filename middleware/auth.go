package middleware

import (
	"fmt"
	"strings"

	apperrors "github.com/ReceiptRadar/receipt-radar-backend/errors"
	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware validates the Bearer token on every request and stores the
// authenticated user's ID in the gin context. Tokens are HS256-signed with
// the shared secret; the subject claim carries the user ID.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.GetLogger()

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			_ = c.Error(apperrors.Unauthorized("missing_token", "Authorization header required"))
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader || tokenString == "" {
			_ = c.Error(apperrors.Unauthorized("invalid_token_format", "Authorization header must be a Bearer token"))
			c.Abort()
			return
		}

		claims := jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			log.Debugw("Token validation failed",
				"error", err,
				"tokenPrefix", logger.MaskSensitiveString(tokenString, 8, 0))
			_ = c.Error(apperrors.Unauthorized("invalid_token", "Invalid or expired token"))
			c.Abort()
			return
		}

		if claims.Subject == "" {
			_ = c.Error(apperrors.Unauthorized("invalid_token", "Token missing subject claim"))
			c.Abort()
			return
		}

		c.Set(string(UserIDKey), claims.Subject)
		c.Next()
	}
}

// GetUserID returns the authenticated user's ID from the gin context, or ""
// when the request is unauthenticated.
func GetUserID(c *gin.Context) string {
	return c.GetString(string(UserIDKey))
}
