// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/Corphon/FlagLens/internal/api"
	"github.com/Corphon/FlagLens/internal/config"
	"github.com/Corphon/FlagLens/internal/di"
	"github.com/Corphon/FlagLens/internal/intake"
	_ "github.com/Corphon/FlagLens/internal/llm/providers"
	"github.com/Corphon/FlagLens/internal/prompt"
	"github.com/Corphon/FlagLens/internal/services"
	"github.com/Corphon/FlagLens/internal/utils"
)

const shutdownTimeout = 15 * time.Second

// App 应用程序
type App struct {
	config    *config.AppConfig
	container *di.Container
	router    *gin.Engine
	handler   *api.Handler
	server    *http.Server
	logger    *utils.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
}

var (
	instance *App
	mu       sync.Mutex
)

// GetApp 获取应用实例（单例）
func GetApp() *App {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		instance = &App{
			container: di.GetContainer(),
			stopChan:  make(chan struct{}),
		}
	}
	return instance
}

// Initialize 初始化应用: directories, config, logger, services and router.
func (a *App) Initialize(base *config.Config) error {
	if err := createDirectories(base); err != nil {
		return err
	}

	if err := config.InitConfig(base); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}
	a.config = config.GetCurrentConfig()

	logFile := ""
	if a.config.LogDir != "" {
		logFile = filepath.Join(a.config.LogDir, "flaglens.log")
	}
	if err := utils.InitLogger(logFile, a.config.DebugMode); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	a.logger = utils.GetLogger()

	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router, handler, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	a.router = router
	a.handler = handler
	a.server = &http.Server{
		Addr:              ":" + a.config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("application initialized", map[string]interface{}{
		"port":     a.config.Port,
		"provider": a.config.LLMProvider,
		"services": a.container.GetNames(),
	})
	return nil
}

// InitServices 按依赖顺序初始化所有服务并注册到容器
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()
	logger := utils.GetLogger()

	metrics := utils.NewAnalysisMetrics()
	container.Register("metrics", metrics)

	validator := intake.NewValidator(cfg.MaxUploadBytes)
	container.Register("intake", validator)

	prompts, err := prompt.NewStore(cfg.PromptFile, logger)
	if err != nil {
		return fmt.Errorf("load prompt: %w", err)
	}
	container.Register("prompt", prompts)

	llmService := services.NewLLMService(logger)
	container.Register("llm", llmService)

	container.Register("analysis", services.NewAnalysisService(llmService, prompts, metrics, logger))

	var seed services.SeedFunc
	if image, err := services.EnsureDefaultImage(cfg.StaticDir, validator, logger); err != nil {
		logger.Warn("default flag unavailable, sessions start empty", map[string]interface{}{"error": err})
	} else {
		seed = services.DefaultSeed(image)
	}

	sessions, err := services.NewSessionService(cfg.MaxSessions, seed)
	if err != nil {
		return fmt.Errorf("create session table: %w", err)
	}
	container.Register("session", sessions)

	return nil
}

// Run serves HTTP and watches the prompt file until ctx is cancelled or
// either fails.
func (a *App) Run(ctx context.Context) error {
	if a.server == nil {
		return errors.New("app not initialized")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server listening", map[string]interface{}{"addr": a.server.Addr})
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("启动服务器失败: %w", err)
		}
		return nil
	})

	if prompts, err := di.Resolve[*prompt.Store](a.container, "prompt"); err == nil {
		g.Go(func() error {
			return prompts.Watch(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if a.handler != nil {
			a.handler.Hub.Shutdown()
		}
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Stop 请求停止运行
func (a *App) Stop() {
	a.stopOnce.Do(func() { close(a.stopChan) })
}

// Cleanup 清理资源
func (a *App) Cleanup() {
	if a.logger != nil {
		a.logger.Info("cleanup complete", nil)
		a.logger.Sync()
	}
}

// GetConfig 返回当前配置
func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

// Router exposes the HTTP handler, mainly for tests.
func (a *App) Router() http.Handler {
	return a.router
}

// IsDebugMode 是否为调试模式
func (a *App) IsDebugMode() bool {
	return a.config != nil && a.config.DebugMode
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.LogDir,
		filepath.Join(cfg.StaticDir, "images"),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "images" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}
