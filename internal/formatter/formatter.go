// internal/formatter/formatter.go

// Package formatter turns the free-text analysis returned by a vision model
// into an ordered sequence of typed segments that any rendering layer can draw.
package formatter

import (
	"regexp"
	"strings"

	"github.com/Corphon/FlagLens/internal/models"
)

// sectionPrefix matches "1.", "12." and the whitespace that follows.
var sectionPrefix = regexp.MustCompile(`^\d+\.\s*`)

const listMarker = "-"

// Format classifies every non-blank line of text into exactly one segment,
// preserving line order. It never fails; unrecognised lines become paragraphs.
func Format(text string) []models.Segment {
	segments := make([]models.Segment, 0)
	if text == "" {
		return segments
	}

	for _, line := range strings.Split(text, "\n") {
		clean := CleanLine(line)
		if clean == "" {
			continue
		}
		segments = append(segments, classify(clean))
	}

	return segments
}

// CleanLine strips emphasis, header and code markers and trims whitespace.
// Colons and dashes are left alone.
func CleanLine(line string) string {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '*', '_', '#', '`':
			return -1
		}
		return r
	}, line)
	return strings.TrimSpace(stripped)
}

func classify(clean string) models.Segment {
	if loc := sectionPrefix.FindStringIndex(clean); loc != nil {
		return models.SectionHeader(clean[loc[1]:])
	}

	if rest, ok := strings.CutPrefix(clean, listMarker); ok {
		// 只按第一个冒号切分，值中的冒号原样保留
		if label, value, found := strings.Cut(rest, ":"); found {
			return models.LabeledField(strings.TrimSpace(label), strings.TrimSpace(value))
		}
		return models.BulletItem(strings.TrimSpace(rest))
	}

	return models.Paragraph(clean)
}

// Summary counts segments by kind and keeps section titles in order.
type Summary struct {
	Total    int                        `json:"total"`
	ByKind   map[models.SegmentKind]int `json:"by_kind"`
	Sections []string                   `json:"sections"`
}

// Summarize builds a Summary for an already formatted sequence.
func Summarize(segments []models.Segment) Summary {
	summary := Summary{
		Total:    len(segments),
		ByKind:   make(map[models.SegmentKind]int),
		Sections: []string{},
	}
	for _, seg := range segments {
		summary.ByKind[seg.Kind]++
		if seg.Kind == models.SegmentSectionHeader {
			summary.Sections = append(summary.Sections, seg.Title)
		}
	}
	return summary
}
