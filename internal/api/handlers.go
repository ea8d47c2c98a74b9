// internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/FlagLens/internal/errors"
	"github.com/Corphon/FlagLens/internal/formatter"
	"github.com/Corphon/FlagLens/internal/intake"
	"github.com/Corphon/FlagLens/internal/llm"
	"github.com/Corphon/FlagLens/internal/models"
	"github.com/Corphon/FlagLens/internal/services"
	"github.com/Corphon/FlagLens/internal/utils"
)

// multipart overhead allowed on top of the image ceiling
const multipartSlack = 1 << 20

// Handler 处理API请求
type Handler struct {
	AnalysisService *services.AnalysisService // 分析服务
	SessionService  *services.SessionService  // 会话服务
	LLMService      *services.LLMService      // 视觉模型服务
	Validator       *intake.Validator         // 图片校验
	Metrics         *utils.AnalysisMetrics    // 指标
	Hub             *SessionHub               // WebSocket 推送
	Response        *ResponseHelper           // 响应助手
	Logger          *utils.Logger
}

// NewHandler 创建处理器
func NewHandler(
	analysisService *services.AnalysisService,
	sessionService *services.SessionService,
	llmService *services.LLMService,
	validator *intake.Validator,
	metrics *utils.AnalysisMetrics,
	logger *utils.Logger,
) *Handler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewAnalysisMetrics()
	}
	if validator == nil {
		validator = intake.NewValidator(0)
	}
	return &Handler{
		AnalysisService: analysisService,
		SessionService:  sessionService,
		LLMService:      llmService,
		Validator:       validator,
		Metrics:         metrics,
		Hub:             NewSessionHub(sessionService, logger),
		Response:        NewResponseHelper(logger),
		Logger:          logger,
	}
}

// AnalyzeResponse is returned by every analysis endpoint.
type AnalyzeResponse struct {
	Session    models.SessionView `json:"session"`
	Summary    formatter.Summary  `json:"summary"`
	Provider   string             `json:"provider"`
	Model      string             `json:"model,omitempty"`
	DurationMS int64              `json:"duration_ms"`
}

// FormatRequest 文本格式化请求
type FormatRequest struct {
	Text string `json:"text"`
}

// FormatResponse 文本格式化结果
type FormatResponse struct {
	Segments []models.Segment  `json:"segments"`
	Summary  formatter.Summary `json:"summary"`
}

// EncodedImageRequest carries an image that is already a data URI.
type EncodedImageRequest struct {
	Image string `json:"image" binding:"required"`
}

// currentSession returns the caller's session, creating one and setting the
// cookie when needed.
func (h *Handler) currentSession(c *gin.Context) models.SessionView {
	view, created := h.SessionService.GetOrCreate(sessionIDFromContext(c))
	if created || sessionIDFromContext(c) != view.ID {
		setSessionCookie(c, view.ID)
	}
	return view
}

// IndexPage 返回主页, with the session's segments rendered server side.
func (h *Handler) IndexPage(c *gin.Context) {
	view := h.currentSession(c)

	c.HTML(http.StatusOK, "index.html", gin.H{
		"Session":  view,
		"Summary":  formatter.Summarize(view.Segments),
		"Accept":   strings.Join(intake.AcceptedTypes, ","),
		"MaxBytes": h.Validator.MaxBytes(),
		"MaxLabel": intake.HumanBytes(h.Validator.MaxBytes()),
		"Provider": h.LLMService.GetProviderName(),
		"Loading":  view.Status == models.StatusLoading,
	})
}

// GetSession 获取当前会话
func (h *Handler) GetSession(c *gin.Context) {
	h.Response.Success(c, h.currentSession(c))
}

// AnalyzeUpload handles a multipart upload in the "image" field.
func (h *Handler) AnalyzeUpload(c *gin.Context) {
	view := h.currentSession(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Validator.MaxBytes()+multipartSlack)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectIntake(c, apperrors.NewValidationError(
				"Image is too large: the limit is "+intake.HumanBytes(h.Validator.MaxBytes()),
				&intake.Rejection{Reason: intake.ReasonSize, Err: err}))
			return
		}
		h.rejectIntake(c, apperrors.NewValidationError("Please choose an image to analyze",
			&intake.Rejection{Reason: intake.ReasonEmpty, Err: err}))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.rejectIntake(c, apperrors.NewValidationError("Failed to read the uploaded file",
			&intake.Rejection{Reason: intake.ReasonRead, Err: err}))
		return
	}
	defer file.Close()

	image, err := h.Validator.ReadUpload(file, fileHeader.Filename)
	if err != nil {
		h.rejectIntake(c, err)
		return
	}

	h.runAnalysis(c, view.ID, image)
}

// AnalyzeEncoded handles {"image": "data:image/png;base64,..."}.
func (h *Handler) AnalyzeEncoded(c *gin.Context) {
	view := h.currentSession(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Validator.MaxBytes()*4/3+multipartSlack)

	var req EncodedImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectIntake(c, apperrors.NewValidationError(
				"Image is too large: the limit is "+intake.HumanBytes(h.Validator.MaxBytes()),
				&intake.Rejection{Reason: intake.ReasonSize, Err: err}))
			return
		}
		h.rejectIntake(c, apperrors.NewValidationError("Request must carry an image data URI",
			&intake.Rejection{Reason: intake.ReasonEmpty, Err: err}))
		return
	}

	image, err := h.Validator.DecodeDataURI(req.Image)
	if err != nil {
		h.rejectIntake(c, err)
		return
	}

	h.runAnalysis(c, view.ID, image)
}

// Reanalyze re-runs the analysis on the image currently on display.
func (h *Handler) Reanalyze(c *gin.Context) {
	view := h.currentSession(c)

	image, err := h.SessionService.Image(view.ID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.runAnalysis(c, view.ID, image)
}

func (h *Handler) rejectIntake(c *gin.Context, err error) {
	reason := intake.ReasonOf(err)
	if reason == "" {
		reason = "invalid"
	}
	h.Metrics.RecordIntakeRejection(reason)
	h.Response.FromError(c, err)
}

// runAnalysis drives one session through loading to ready or failed.
func (h *Handler) runAnalysis(c *gin.Context, sessionID string, image *intake.EncodedImage) {
	if err := h.SessionService.Begin(sessionID); err != nil {
		h.Response.FromError(c, err)
		return
	}

	result, err := h.AnalysisService.AnalyzeAndFormat(c.Request.Context(), image)
	if err != nil {
		message := err.Error()
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			message = appErr.UserMessage()
		}
		if errors.Is(err, context.Canceled) {
			message = "Analysis was cancelled"
		}
		if failErr := h.SessionService.Fail(sessionID, message); failErr != nil {
			h.Logger.Warn("failed to record analysis failure", map[string]interface{}{
				"session": sessionID,
				"error":   failErr,
			})
		}
		h.Response.FromError(c, err)
		return
	}

	if err := h.SessionService.Complete(sessionID, image, result.Text, result.Segments); err != nil {
		h.Response.FromError(c, err)
		return
	}

	view, err := h.SessionService.Get(sessionID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	h.Response.Success(c, AnalyzeResponse{
		Session:    view,
		Summary:    formatter.Summarize(result.Segments),
		Provider:   result.Provider,
		Model:      result.Model,
		DurationMS: result.Duration.Milliseconds(),
	}, "analysis completed")
}

// FormatText exposes the formatter directly.
func (h *Handler) FormatText(c *gin.Context) {
	var req FormatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	segments := formatter.Format(req.Text)
	h.Response.Success(c, FormatResponse{
		Segments: segments,
		Summary:  formatter.Summarize(segments),
	})
}

// GetLLMStatus 获取LLM服务状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	h.Response.Success(c, h.LLMService.GetStatus())
}

// GetLLMModels 获取LLM提供商支持的模型列表, defaulting to the active provider.
func (h *Handler) GetLLMModels(c *gin.Context) {
	provider := c.Query("provider")
	if provider != "" && !providerRegistered(provider) {
		h.Response.Error(c, http.StatusNotFound, ErrorLLMProviderMissing,
			fmt.Sprintf("unknown provider %q", provider),
			"available: "+strings.Join(llm.ListProviders(), ", "))
		return
	}
	if provider == "" {
		provider = h.LLMService.GetProviderName()
	}

	h.Response.Success(c, gin.H{
		"provider": provider,
		"models":   h.LLMService.GetModels(provider),
	})
}

func providerRegistered(name string) bool {
	for _, p := range llm.ListProviders() {
		if p == name {
			return true
		}
	}
	return false
}

// UpdateLLMConfig 更新LLM配置
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req struct {
		Provider string            `json:"provider" binding:"required"`
		Config   map[string]string `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}
	if !providerRegistered(req.Provider) {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMProviderMissing,
			fmt.Sprintf("unknown provider %q", req.Provider))
		return
	}

	if err := h.LLMService.UpdateProvider(req.Provider, req.Config); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "provider configuration rejected", err.Error())
		return
	}

	h.Response.Success(c, h.LLMService.GetStatus(), "LLM configuration updated")
}

// GetMetrics 返回进程内指标
func (h *Handler) GetMetrics(c *gin.Context) {
	metrics := h.Metrics.Collector().GetMetrics()
	metrics["sessions"] = h.SessionService.Len()
	metrics["websocket"] = h.Hub.GetStatus()
	h.Response.Success(c, metrics)
}

// Healthz reports liveness and whether a provider is configured.
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	if !h.LLMService.IsReady() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":    http.StatusText(status),
		"llm_ready": h.LLMService.IsReady(),
		"provider":  h.LLMService.GetProviderName(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// SessionWebSocket 处理会话 WebSocket 连接
func (h *Handler) SessionWebSocket(c *gin.Context) {
	view := h.currentSession(c)
	h.Hub.Serve(c, view.ID)
}
