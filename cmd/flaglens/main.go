// cmd/flaglens/main.go
package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/Corphon/FlagLens/internal/llm/providers"
)

func main() {
	if err := runRoot(newRootCommand()); err != nil {
		os.Exit(1)
	}
}

// reportedError marks an error the command has already printed.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

func reported(err error) error { return reportedError{err} }

// runRoot executes cmd and prints any error that was not reported yet, once.
func runRoot(cmd *cobra.Command) error {
	err := cmd.Execute()
	var done reportedError
	if err != nil && !errors.As(err, &done) {
		errorColor.Fprintln(cmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

// options shared by every subcommand
type rootOptions struct {
	verbose bool
	noColor bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "flaglens",
		Short: "Identify flags in photos with a multimodal model",
		Long: `FlagLens sends a flag photo to a vision model and prints the analysis
as headers, labeled fields, bullet points and paragraphs.

Provider keys come from the environment (or a .env file):
  GEMINI_API_KEY, ANTHROPIC_API_KEY, OPENROUTER_API_KEY
Without a key the offline "static" provider returns a sample analysis.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				disableColor()
			}
		},
	}

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log requests to stderr")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newAnalyzeCommand(opts),
		newFormatCommand(),
		newProvidersCommand(),
	)
	return root
}
