package transcribe

import (
	"strings"

	"transcribe-multilingual/internal/domain"
)

// EmptyTranscriptText fills the single segment of a transcript with no text.
const EmptyTranscriptText = "[empty transcript]"

// Word is one timed token from a word-level provider response.
type Word struct {
	Text       string
	Start      float64
	End        float64
	Confidence *float64
	Speaker    string
}

// SegmentsFromWords groups words into segments ending at '.', '?' or '!'.
// A trailing group without terminal punctuation still becomes a segment.
// The speaker of a segment is the speaker of its first word.
func SegmentsFromWords(words []Word) []domain.Segment {
	var segments []domain.Segment
	var chunk []Word

	flush := func() {
		if len(chunk) == 0 {
			return
		}
		texts := make([]string, 0, len(chunk))
		for _, w := range chunk {
			if t := strings.TrimSpace(w.Text); t != "" {
				texts = append(texts, t)
			}
		}
		start := chunk[0].Start
		end := chunk[len(chunk)-1].End
		if end < start {
			end = start
		}
		segments = append(segments, domain.Segment{
			ID:         len(segments) + 1,
			Start:      start,
			End:        end,
			Text:       strings.Join(texts, " "),
			Confidence: meanConfidence(chunk),
			Speaker:    chunk[0].Speaker,
		})
		chunk = nil
	}

	for _, w := range words {
		chunk = append(chunk, w)
		if t := strings.TrimSpace(w.Text); t != "" && strings.ContainsAny(t[len(t)-1:], ".?!") {
			flush()
		}
	}
	flush()
	return segments
}

// SingleSegment builds the one-segment fallback for responses without boundaries.
func SingleSegment(text string, durationSec float64) []domain.Segment {
	text = strings.TrimSpace(text)
	if text == "" {
		text = EmptyTranscriptText
	}
	if durationSec < 0 {
		durationSec = 0
	}
	return []domain.Segment{{ID: 1, Start: 0, End: durationSec, Text: text}}
}

// ensureSegments applies the single-segment fallback when segments is empty.
func ensureSegments(segments []domain.Segment, text string, durationSec float64) []domain.Segment {
	if len(segments) > 0 {
		return segments
	}
	return SingleSegment(text, durationSec)
}

func meanConfidence(words []Word) *float64 {
	var sum float64
	n := 0
	for _, w := range words {
		if w.Confidence != nil {
			sum += *w.Confidence
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

// normalizeLanguage maps "auto" and empty language to no explicit override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

func withDuration(meta map[string]any, durationSec float64) map[string]any {
	if meta == nil {
		meta = map[string]any{}
	}
	if durationSec > 0 {
		meta["duration_sec"] = durationSec
	}
	return meta
}
