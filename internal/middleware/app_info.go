package middleware

import (
	"github.com/haierkeys/vault-device-sync/pkg/app"

	"github.com/gin-gonic/gin"
)

// AppInfoWithConfig 注入应用名称与版本到请求上下文
func AppInfoWithConfig(name string, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("app_name", name)
		c.Set("app_version", version)
		c.Set("access_host", app.GetAccessHost(c))

		c.Next()
	}
}
