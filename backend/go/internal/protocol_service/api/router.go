package api

import "github.com/gin-gonic/gin"

// SetupRouter 配置和返回一个 Gin 引擎实例。
// 访问日志、限流和熔断由外层的 pkg/http.Server 负责，这里只加 Recovery。
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", h.Health)
	r.GET("/status", h.Status)

	// 使用 v1 版本对 API 进行分组
	apiV1 := r.Group("/api/v1")
	{
		protocols := apiV1.Group("/protocols")
		{
			protocols.POST("", h.UploadProtocol)
			protocols.GET("", h.ListProtocols)
			protocols.GET("/:id", h.GetProtocol)
			protocols.GET("/:id/file", h.GetProtocolFile)
			protocols.DELETE("/:id", h.DeleteProtocol)
			protocols.POST("/:id/activate", h.ActivateProtocol)
		}
		apiV1.POST("/recommendations", h.Recommend)
	}

	return r
}
