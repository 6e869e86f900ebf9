package domain

import (
	"maps"
	"strings"
)

// Segment is one timed span of a transcript.
type Segment struct {
	ID             int      `json:"id"`
	Start          float64  `json:"start"`
	End            float64  `json:"end"`
	Text           string   `json:"text"`
	TranslatedText string   `json:"translated_text,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Speaker        string   `json:"speaker,omitempty"`
}

// TranscriptDocument is the provider-agnostic transcript.
//
// Documents are values: translation and other rewrites produce a new document
// through WithSegments and never touch the segments of the original.
type TranscriptDocument struct {
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	DetectedLanguage string         `json:"detected_language,omitempty"`
	Segments         []Segment      `json:"segments"`
	Metadata         map[string]any `json:"metadata"`
}

// WithSegments returns a copy of d carrying segments instead of d.Segments.
func (d TranscriptDocument) WithSegments(segments []Segment) TranscriptDocument {
	out := d
	out.Segments = segments
	out.Metadata = maps.Clone(d.Metadata)
	return out
}

// CloneSegments returns a copy of the segment slice safe to modify.
func (d TranscriptDocument) CloneSegments() []Segment {
	out := make([]Segment, len(d.Segments))
	copy(out, d.Segments)
	return out
}

// HasTranslation reports whether any segment carries non-empty translated text.
func (d TranscriptDocument) HasTranslation() bool {
	for _, seg := range d.Segments {
		if strings.TrimSpace(seg.TranslatedText) != "" {
			return true
		}
	}
	return false
}
