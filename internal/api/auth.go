package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const subjectContextKey = "Subject"

// operatorClaims are the JWT claims issued to control-plane operators.
type operatorClaims struct {
	Subject string `json:"sub_name"`
	jwt.RegisteredClaims
}

// GenerateToken signs an operator token valid until expiresAt.
func GenerateToken(subject, secret string, expiresAt time.Time) (string, error) {
	claims := operatorClaims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &operatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*operatorClaims); ok && token.Valid {
		return claims.Subject, nil
	}
	return "", errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		subject, err := parseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(subjectContextKey, subject)
		c.Next()
	}
}

// issueToken exchanges the shared operator secret for a signed JWT.
func (s *Server) issueToken(c *gin.Context) {
	var req struct {
		Operator string `json:"operator"`
		Secret   string `json:"secret"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if req.Secret == "" || req.Secret != s.JWTSecret {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_CREDENTIALS",
			"error": "invalid credentials",
		})
		return
	}
	operator := strings.TrimSpace(req.Operator)
	if operator == "" {
		operator = "operator"
	}

	expiresAt := time.Now().Add(72 * time.Hour)
	token, err := GenerateToken(operator, s.JWTSecret, expiresAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": "failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"operator":   operator,
	})
}
