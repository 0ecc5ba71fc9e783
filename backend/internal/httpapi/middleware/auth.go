package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// 上游校验的超时预算：鉴权挂了不能拖死整个提交链路
const verifyTimeout = 1200 * time.Millisecond

// actorClaims 是鉴权服务 verify 接口的应答体。
type actorClaims struct {
	ActorID string `json:"actorId"`
	Name    string `json:"name"`
	Type    string `json:"type"` // "access"
	Error   string `json:"error,omitempty"`
}

// AuthMiddleware 提取 token 并把 actorId 写进 gin 上下文。
// - authBaseURL 非空：POST {authBaseURL}/v1/auth/verify 让上游校验
// - authBaseURL 为空：开发模式，token 字面值直接当 actorId
// WebSocket 升级请求带不了自定义 Header，所以 ?token= 也认。
func AuthMiddleware(authBaseURL string) gin.HandlerFunc {
	client := &http.Client{}

	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortUnauthenticated(c, "missing token")
			return
		}

		if authBaseURL == "" {
			// 开发模式
			c.Set("actorId", token)
			c.Next()
			return
		}

		claims, status := verifyUpstream(c.Request.Context(), client, authBaseURL, token)
		switch status {
		case http.StatusOK:
			c.Set("actorId", claims.ActorID)
			if claims.Name != "" {
				c.Set("actorName", claims.Name)
			}
			c.Next()
		case http.StatusUnauthorized:
			msg := claims.Error
			if msg == "" {
				msg = "invalid token"
			}
			abortUnauthenticated(c, msg)
		default:
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"code":    "AUTH_UPSTREAM_ERROR",
				"message": "auth verify failed",
			})
		}
	}
}

// verifyUpstream 调鉴权服务校验 token。返回的 status 是三态：
// 200 通过、401 拒绝、其余一律按上游故障处理。
func verifyUpstream(parent context.Context, client *http.Client, baseURL, token string) (actorClaims, int) {
	ctx, cancel := context.WithTimeout(parent, verifyTimeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/v1/auth/verify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return actorClaims{}, http.StatusInternalServerError
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// 超时也落在这里
		return actorClaims{}, http.StatusBadGateway
	}
	defer resp.Body.Close()

	var claims actorClaims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil && resp.StatusCode == http.StatusOK {
		return actorClaims{}, http.StatusBadGateway
	}
	if resp.StatusCode == http.StatusOK && claims.Type != "" && claims.Type != "access" {
		claims.Error = "access token required"
		return claims, http.StatusUnauthorized
	}
	return claims, resp.StatusCode
}

// bearerToken 从 Authorization 头或 ?token= 里取 token。
func bearerToken(c *gin.Context) string {
	header := c.Request.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return strings.TrimSpace(c.Query("token"))
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    "UNAUTHENTICATED",
		"message": msg,
	})
}
