// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/FlagLens/internal/app"
	"github.com/Corphon/FlagLens/internal/config"
)

func main() {
	log.Println("🚀 启动 FlagLens 服务器...")

	// 1. 首先加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if !baseConfig.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. 初始化应用（目录、配置、日志、服务、路由）
	application := app.GetApp()
	if err := application.Initialize(baseConfig); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	defer application.Cleanup()

	log.Printf("🔗 访问地址: http://localhost:%s (provider: %s)",
		application.GetConfig().Port, application.GetConfig().LLMProvider)

	// 3. 运行直到收到中断信号
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Printf("❌ 服务器异常退出: %v", err)
		application.Cleanup()
		os.Exit(1)
	}

	log.Println("✅ 服务器优雅关闭完成")
}
