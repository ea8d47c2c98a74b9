// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/FlagLens/internal/config"
	"github.com/Corphon/FlagLens/internal/di"
	"github.com/Corphon/FlagLens/internal/intake"
	"github.com/Corphon/FlagLens/internal/services"
	"github.com/Corphon/FlagLens/internal/utils"
	"github.com/Corphon/FlagLens/web"
)

// RouterOptions 路由配置
type RouterOptions struct {
	StaticDir        string
	AnalyzeRateLimit int // per client IP per minute, 0 disables
}

// SetupRouter 配置HTTP路由, taking every service from the container.
func SetupRouter() (*gin.Engine, *Handler, error) {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	analysisService, err := di.Resolve[*services.AnalysisService](container, "analysis")
	if err != nil {
		return nil, nil, err
	}
	sessionService, err := di.Resolve[*services.SessionService](container, "session")
	if err != nil {
		return nil, nil, err
	}
	llmService, err := di.Resolve[*services.LLMService](container, "llm")
	if err != nil {
		return nil, nil, err
	}
	validator, err := di.Resolve[*intake.Validator](container, "intake")
	if err != nil {
		return nil, nil, err
	}
	metrics, err := di.Resolve[*utils.AnalysisMetrics](container, "metrics")
	if err != nil {
		return nil, nil, err
	}

	handler := NewHandler(analysisService, sessionService, llmService, validator, metrics, utils.GetLogger())

	router, err := NewRouter(handler, RouterOptions{
		StaticDir:        cfg.StaticDir,
		AnalyzeRateLimit: cfg.AnalyzeRateLimit,
	})
	if err != nil {
		return nil, nil, err
	}
	return router, handler, nil
}

// NewRouter builds the gin engine around h.
func NewRouter(h *Handler, opts RouterOptions) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogMiddleware(h.Logger, h.Metrics))
	r.Use(corsMiddleware())

	tmpl, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	r.SetHTMLTemplate(tmpl)

	// 静态文件服务
	r.StaticFS("/assets", http.FS(web.Static()))
	if opts.StaticDir != "" {
		r.Static("/static", opts.StaticDir)
	}

	// ===============================
	// 页面路由
	// ===============================
	r.GET("/", h.IndexPage)
	r.GET("/healthz", h.Healthz)

	// WebSocket 支持
	r.GET("/ws/session", h.SessionWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		api.GET("/session", h.GetSession)
		api.POST("/format", h.FormatText)
		api.GET("/metrics", h.GetMetrics)

		// 分析相关路由
		analyzeGroup := api.Group("", AnalysisRateLimit(opts.AnalyzeRateLimit))
		{
			analyzeGroup.POST("/analyze", h.AnalyzeUpload)
			analyzeGroup.POST("/analyze/encoded", h.AnalyzeEncoded)
			analyzeGroup.POST("/reanalyze", h.Reanalyze)
		}

		// LLM配置相关路由
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", h.GetLLMStatus)
			llmGroup.GET("/models", h.GetLLMModels)
			llmGroup.PUT("/config", h.UpdateLLMConfig)
		}
	}

	return r, nil
}
