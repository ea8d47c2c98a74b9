// cmd/flaglens/commands.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Corphon/FlagLens/internal/config"
	apperrors "github.com/Corphon/FlagLens/internal/errors"
	"github.com/Corphon/FlagLens/internal/formatter"
	"github.com/Corphon/FlagLens/internal/intake"
	"github.com/Corphon/FlagLens/internal/llm"
	"github.com/Corphon/FlagLens/internal/models"
	"github.com/Corphon/FlagLens/internal/prompt"
	"github.com/Corphon/FlagLens/internal/services"
	"github.com/Corphon/FlagLens/internal/utils"
)

type analyzeOptions struct {
	provider   string
	model      string
	promptFile string
	timeout    time.Duration
	jsonOutput bool
}

// analyzeOutput is the --json shape of one analysis.
type analyzeOutput struct {
	File       string            `json:"file"`
	MIMEType   string            `json:"mime_type"`
	Provider   string            `json:"provider"`
	Model      string            `json:"model,omitempty"`
	DurationMS int64             `json:"duration_ms"`
	Text       string            `json:"text"`
	Segments   []models.Segment  `json:"segments"`
	Summary    formatter.Summary `json:"summary"`
}

func newAnalyzeCommand(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Analyze a flag photo (JPEG, PNG or WEBP)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.provider, "provider", "p", "", "vision provider (defaults to LLM_PROVIDER or the first provider with a key)")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model name (defaults to the provider's default)")
	cmd.Flags().StringVar(&opts.promptFile, "prompt-file", "", "read the instruction prompt from this file")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "give up after this long")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the result as JSON")
	return cmd
}

func newCLILogger(verbose bool) *utils.Logger {
	if !verbose {
		return utils.NewLogger(zap.NewNop())
	}
	zl, err := zap.NewDevelopment()
	if err != nil {
		return utils.NewLogger(zap.NewNop())
	}
	return utils.NewLogger(zl)
}

// newVisionClient builds the named provider from environment settings.
func newVisionClient(base *config.Config, name, model string, logger *utils.Logger) (*services.LLMService, error) {
	if name == "" {
		name = base.LLMProvider
	}
	settings := map[string]string{}
	if key := base.APIKeys[name]; key != "" {
		settings["api_key"] = key
	}
	if model == "" {
		model = base.LLMModel
	}
	if model != "" {
		settings["default_model"] = model
	}

	provider, err := llm.GetProvider(name, settings)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	return services.NewLLMServiceWithProvider(name, provider, logger), nil
}

func runAnalyze(ctx context.Context, stdout, stderr io.Writer, root *rootOptions, opts *analyzeOptions, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	base, err := config.Load()
	if err != nil {
		return err
	}
	logger := newCLILogger(root.verbose)

	// 先校验图片，失败时不发请求
	file, err := os.Open(path)
	if err != nil {
		errorColor.Fprintf(stderr, "Cannot open %s: %v\n", path, err)
		return reported(err)
	}
	defer file.Close()

	image, err := intake.NewValidator(base.MaxUploadBytes).ReadUpload(file, path)
	if err != nil {
		errorColor.Fprintln(stderr, userMessage(err))
		return reported(err)
	}

	client, err := newVisionClient(base, opts.provider, opts.model, logger)
	if err != nil {
		errorColor.Fprintln(stderr, err.Error())
		return reported(err)
	}

	promptFile := opts.promptFile
	if promptFile == "" {
		promptFile = base.PromptFile
	}
	prompts, err := prompt.NewStore(promptFile, logger)
	if err != nil {
		errorColor.Fprintln(stderr, err.Error())
		return reported(err)
	}

	metrics := utils.NewAnalysisMetricsWith(utils.NewMetricsCollector(), logger)
	analysis := services.NewAnalysisService(client, prompts, metrics, logger)

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	result, err := analysis.AnalyzeAndFormat(ctx, image)
	if err != nil {
		errorColor.Fprintf(stderr, "Analysis failed: %s\n", userMessage(err))
		return reported(err)
	}

	if opts.jsonOutput {
		return writeJSON(stdout, analyzeOutput{
			File:       path,
			MIMEType:   image.MIMEType,
			Provider:   result.Provider,
			Model:      result.Model,
			DurationMS: result.Duration.Milliseconds(),
			Text:       result.Text,
			Segments:   result.Segments,
			Summary:    formatter.Summarize(result.Segments),
		})
	}

	renderSegments(stdout, result.Segments)
	fmt.Fprintln(stdout)
	renderSummary(stdout, formatter.Summarize(result.Segments))
	successColor.Fprintf(stderr, "✅ analyzed by %s in %s\n", result.Provider, result.Duration.Round(time.Millisecond))
	return nil
}

func userMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.UserMessage()
	}
	return err.Error()
}

func newFormatCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "format [file]",
		Short: "Format analysis text from a file or stdin without calling a model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			segments := formatter.Format(string(data))
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"segments": segments,
					"summary":  formatter.Summarize(segments),
				})
			}
			renderSegments(cmd.OutOrStdout(), segments)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print segments as JSON")
	return cmd
}

func newProvidersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List vision providers and their models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := config.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range llm.ListProviders() {
				marker := " "
				if name == base.LLMProvider {
					marker = "*"
				}
				keyState := "no key"
				if name == "static" || base.APIKeys[name] != "" {
					keyState = "ready"
				}

				headerColor.Fprintf(out, "%s %s", marker, name)
				dimColor.Fprintf(out, " (%s)\n", keyState)
				for _, model := range llm.GetSupportedModelsForProvider(name) {
					fmt.Fprintf(out, "    %s\n", model)
				}
			}
			return nil
		},
	}
}
