package middleware

import (
	"github.com/haierkeys/vault-device-sync/pkg/app"
	"github.com/haierkeys/vault-device-sync/pkg/code"

	"github.com/gin-gonic/gin"
)

// RelayAuthTokenWithConfig 中继访问 Token 认证中间件（使用注入的密钥）
// Token 可以来自 Authorization 头、token 头或同名查询参数
func RelayAuthTokenWithConfig(secretKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		response := app.NewResponse(c)

		if s, exist := c.GetQuery("authorization"); exist {
			token = s
		} else if s, exist := c.GetQuery("Authorization"); exist {
			token = s
		} else if s := c.GetHeader("authorization"); len(s) != 0 {
			token = s
		} else if s := c.GetHeader("Authorization"); len(s) != 0 {
			token = s
		} else if s, exist := c.GetQuery("token"); exist {
			token = s
		} else if s = c.GetHeader("token"); len(s) != 0 {
			token = s
		}

		if token == "" {
			response.ToResponse(code.ErrorNotRelayAuthToken)
			c.Abort()
			return
		}

		// Bearer 前缀可选
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}

		if err := app.SetTokenToContextWithKey(c, token, secretKey); err != nil {
			response.ToResponse(code.ErrorInvalidRelayAuthToken)
			c.Abort()
			return
		}

		c.Next()
	}
}
