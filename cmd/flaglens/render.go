// cmd/flaglens/render.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/Corphon/FlagLens/internal/formatter"
	"github.com/Corphon/FlagLens/internal/models"
)

// 终端颜色
var (
	headerColor  = color.New(color.FgMagenta, color.Bold)
	labelColor   = color.New(color.FgCyan, color.Bold)
	bulletColor  = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	dimColor     = color.New(color.Faint)
)

func disableColor() {
	color.NoColor = true
}

// renderSegments prints segments in order, one block per kind.
func renderSegments(w io.Writer, segments []models.Segment) {
	for i, seg := range segments {
		switch seg.Kind {
		case models.SegmentSectionHeader:
			if i > 0 {
				fmt.Fprintln(w)
			}
			headerColor.Fprintln(w, seg.Title)
			dimColor.Fprintln(w, strings.Repeat("─", len([]rune(seg.Title))))
		case models.SegmentLabeledField:
			labelColor.Fprintf(w, "%s:", seg.Label)
			fmt.Fprintf(w, " %s\n", seg.Value)
		case models.SegmentBulletItem:
			bulletColor.Fprint(w, "  • ")
			fmt.Fprintln(w, seg.Text)
		default:
			fmt.Fprintln(w, seg.Text)
		}
	}
}

// renderSummary prints the one-line footer.
func renderSummary(w io.Writer, summary formatter.Summary) {
	dimColor.Fprintf(w, "%d entries across %d sections\n", summary.Total, len(summary.Sections))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
