package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type verifyErrResp struct {
	Error string `json:"error"`
}

type VerifyClaims struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username"`
	Type     string `json:"type"` // "access"
}

type localClaims struct {
	Username string `json:"username"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// Auth verifies the bearer token and stores userId/username in the gin
// context. When verifyBaseURL is set the token is checked against the remote
// auth service; otherwise it is validated locally with the HMAC secret.
// verifyBaseURL 不要带路径：建议 http://localhost:3001，这里自己拼 + "/v1/auth/verify"。
func Auth(verifyBaseURL, secret string) gin.HandlerFunc {
	if verifyBaseURL != "" {
		return remoteVerify(verifyBaseURL)
	}
	return localVerify(secret)
}

func localVerify(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		tokenString := tokenFrom(c)
		if tokenString == "" {
			rejected(c, "Authorization header is missing or invalid")
			return
		}

		var claims localClaims
		token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			rejected(c, "invalid token")
			return
		}
		if claims.Type != "" && claims.Type != "access" {
			rejected(c, "access token required")
			return
		}

		userID, err := parseSubject(claims.Subject)
		if err != nil {
			rejected(c, "invalid subject")
			return
		}

		c.Set("userId", userID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func remoteVerify(baseURL string) gin.HandlerFunc {
	client := &http.Client{}

	// 统一拼接 verify URL（避免 double slash）
	verifyURL := strings.TrimRight(baseURL, "/") + "/v1/auth/verify"

	return func(c *gin.Context) {
		tokenString := tokenFrom(c)
		if tokenString == "" {
			rejected(c, "Authorization header is missing or invalid")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, verifyURL, bytes.NewReader([]byte("{}")))
		if err != nil {
			c.AbortWithStatusJSON(500, gin.H{"code": "INTERNAL", "message": "build verify request failed"})
			return
		}
		req.Header.Set("Authorization", "Bearer "+tokenString)
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			// 这里包含超时：context deadline exceeded
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"code":    "AUTH_UPSTREAM_ERROR",
				"message": "auth-service verify failed",
			})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			var e verifyErrResp
			_ = json.NewDecoder(resp.Body).Decode(&e)
			msg := e.Error
			if msg == "" {
				msg = "invalid token"
			}
			rejected(c, msg)
			return
		}
		if resp.StatusCode != http.StatusOK {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"code":    "AUTH_UPSTREAM_ERROR",
				"message": "auth-service verify non-200",
			})
			return
		}

		var claims VerifyClaims
		if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"code":    "AUTH_UPSTREAM_ERROR",
				"message": "invalid verify response",
			})
			return
		}
		if claims.Type != "" && claims.Type != "access" {
			rejected(c, "access token required")
			return
		}

		c.Set("userId", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func rejected(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    "AUTH_REJECTED",
		"message": msg,
	})
}

func tokenFrom(c *gin.Context) string {
	if t := extractBearer(c.Request.Header.Get("Authorization")); t != "" {
		return t
	}
	// 兼容 WebSocket：浏览器无法自定义 Header，允许从 query ?token= 中获取
	return strings.TrimSpace(c.Query("token"))
}

func parseSubject(sub string) (uint64, error) {
	return strconv.ParseUint(sub, 10, 64)
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}

	// "Bearer" 前缀，大小写不敏感
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}

	return ""
}
