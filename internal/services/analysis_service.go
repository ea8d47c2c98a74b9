// internal/services/analysis_service.go
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/Corphon/FlagLens/internal/errors"
	"github.com/Corphon/FlagLens/internal/formatter"
	"github.com/Corphon/FlagLens/internal/intake"
	"github.com/Corphon/FlagLens/internal/llm"
	"github.com/Corphon/FlagLens/internal/models"
	"github.com/Corphon/FlagLens/internal/prompt"
	"github.com/Corphon/FlagLens/internal/utils"
)

// VisionClient is the part of LLMService the analysis flow needs.
type VisionClient interface {
	AnalyzeImage(ctx context.Context, req llm.VisionRequest) (*llm.VisionResponse, error)
	GetProviderName() string
}

// AnalysisService sends one image plus prompt to the vision provider and
// turns the answer into segments.
type AnalysisService struct {
	client  VisionClient
	prompts *prompt.Store
	metrics *utils.AnalysisMetrics
	logger  *utils.Logger
}

// AnalysisResult is a completed analysis.
type AnalysisResult struct {
	Text     string
	Segments []models.Segment
	Provider string
	Model    string
	Tokens   int
	Duration time.Duration
}

// NewAnalysisService 创建分析服务. prompts may be nil, in which case the
// built-in prompt is used.
func NewAnalysisService(client VisionClient, prompts *prompt.Store, metrics *utils.AnalysisMetrics, logger *utils.Logger) *AnalysisService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if metrics == nil {
		metrics = utils.NewAnalysisMetrics()
	}
	return &AnalysisService{client: client, prompts: prompts, metrics: metrics, logger: logger}
}

// Prompt returns the prompt the next request will carry.
func (s *AnalysisService) Prompt() string {
	if s.prompts == nil {
		return prompt.DefaultPrompt
	}
	return s.prompts.Current()
}

// Analyze performs exactly one request to the vision provider and returns its
// text unchanged. Every failure comes back as a service error whose user
// message is the provider's message.
func (s *AnalysisService) Analyze(ctx context.Context, image *intake.EncodedImage, promptText string) (string, error) {
	resp, err := s.request(ctx, image, promptText)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (s *AnalysisService) request(ctx context.Context, image *intake.EncodedImage, promptText string) (*llm.VisionResponse, error) {
	if image == nil || len(image.Data) == 0 {
		return nil, apperrors.NewValidationError("No image selected", nil)
	}
	if s.client == nil {
		return nil, apperrors.NewServiceError("analysis failed", ErrLLMNotReady)
	}

	resp, err := s.client.AnalyzeImage(ctx, llm.VisionRequest{
		Prompt:   promptText,
		Image:    image.Data,
		MIMEType: image.MIMEType,
	})
	if err != nil {
		return nil, apperrors.NewServiceError("analysis failed", err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return nil, apperrors.NewServiceError("analysis failed", llm.ErrEmptyResponse)
	}
	return resp, nil
}

// AnalyzeAndFormat runs Analyze with the current prompt and formats the text.
func (s *AnalysisService) AnalyzeAndFormat(ctx context.Context, image *intake.EncodedImage) (*AnalysisResult, error) {
	provider := ""
	if s.client != nil {
		provider = s.client.GetProviderName()
	}

	s.metrics.RecordInFlight(1)
	defer s.metrics.RecordInFlight(-1)

	start := time.Now()
	resp, err := s.request(ctx, image, s.Prompt())
	duration := time.Since(start)

	if err != nil {
		s.metrics.RecordAnalysis(provider, 0, duration, err)
		fields := map[string]interface{}{
			"provider":    provider,
			"duration_ms": duration.Milliseconds(),
			"error":       err,
		}
		if errors.Is(err, context.Canceled) {
			s.logger.Info("analysis cancelled", fields)
		} else {
			s.logger.Error("analysis failed", fields)
		}
		return nil, err
	}

	segments := formatter.Format(resp.Text)
	s.metrics.RecordAnalysis(provider, len(segments), duration, nil)

	s.logger.Info("analysis completed", map[string]interface{}{
		"provider":    provider,
		"model":       resp.ModelName,
		"segments":    len(segments),
		"tokens":      resp.TokensUsed,
		"image_bytes": image.Size(),
		"image_sha":   image.SHA256,
		"duration_ms": duration.Milliseconds(),
	})

	return &AnalysisResult{
		Text:     resp.Text,
		Segments: segments,
		Provider: provider,
		Model:    resp.ModelName,
		Tokens:   resp.TokensUsed,
		Duration: duration,
	}, nil
}
