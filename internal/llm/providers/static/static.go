// internal/llm/providers/static/static.go
package static

import (
	"context"

	"github.com/Corphon/FlagLens/internal/llm"
	"github.com/Corphon/FlagLens/internal/prompt"
)

func init() {
	llm.Register("static", func() llm.Provider {
		return &Provider{text: prompt.DefaultAnalysis}
	})
}

// Provider answers every request with a fixed analysis. It keeps the page
// usable when no API key is configured.
type Provider struct {
	text string
}

func (p *Provider) Initialize(config map[string]string) error {
	if text := config["text"]; text != "" {
		p.text = text
	}
	return nil
}

func (p *Provider) GetName() string {
	return "static sample"
}

func (p *Provider) GetSupportedModels() []string {
	return []string{"sample"}
}

func (p *Provider) AnalyzeImage(ctx context.Context, req llm.VisionRequest) (*llm.VisionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &llm.VisionResponse{
		Text:         p.text,
		FinishReason: "stop",
		ModelName:    "sample",
		ProviderName: p.GetName(),
	}, nil
}
