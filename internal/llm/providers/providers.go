// internal/llm/providers/providers.go

// Package providers registers every built-in vision provider. Import it for
// side effects.
package providers

import (
	_ "github.com/Corphon/FlagLens/internal/llm/providers/anthropic"
	_ "github.com/Corphon/FlagLens/internal/llm/providers/google"
	_ "github.com/Corphon/FlagLens/internal/llm/providers/openrouter"
	_ "github.com/Corphon/FlagLens/internal/llm/providers/static"
)
