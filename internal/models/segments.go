// internal/models/segments.go
package models

// SegmentKind 标识渲染片段的类型
type SegmentKind string

const (
	SegmentSectionHeader SegmentKind = "section_header"
	SegmentLabeledField  SegmentKind = "labeled_field"
	SegmentBulletItem    SegmentKind = "bullet_item"
	SegmentParagraph     SegmentKind = "paragraph"
)

// Segment is one classified, renderable unit derived from one non-blank line
// of analysis text. Only the fields of its Kind are populated.
type Segment struct {
	Kind  SegmentKind `json:"kind"`
	Title string      `json:"title,omitempty"`
	Label string      `json:"label,omitempty"`
	Value string      `json:"value,omitempty"`
	Text  string      `json:"text,omitempty"`
}

// SectionHeader marks the start of a numbered category.
func SectionHeader(title string) Segment {
	return Segment{Kind: SegmentSectionHeader, Title: title}
}

// LabeledField is a "key: value" fact.
func LabeledField(label, value string) Segment {
	return Segment{Kind: SegmentLabeledField, Label: label, Value: value}
}

// BulletItem is an unlabeled list entry.
func BulletItem(text string) Segment {
	return Segment{Kind: SegmentBulletItem, Text: text}
}

// Paragraph is a freeform prose line.
func Paragraph(text string) Segment {
	return Segment{Kind: SegmentParagraph, Text: text}
}
