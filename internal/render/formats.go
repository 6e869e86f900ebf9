package render

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"transcribe-multilingual/internal/domain"
)

// SRTTimestamp formats seconds as HH:MM:SS,mmm.
func SRTTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ',')
}

// VTTTimestamp formats seconds as HH:MM:SS.mmm.
func VTTTimestamp(seconds float64) string {
	return formatTimestamp(seconds, '.')
}

func formatTimestamp(seconds float64, sep byte) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(math.Round(seconds * 1000))
	hours := total / 3_600_000
	minutes := (total % 3_600_000) / 60_000
	secs := (total % 60_000) / 1000
	millis := total % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, secs, sep, millis)
}

// segmentText picks the text a variant shows; translated falls back to source per segment.
func segmentText(seg domain.Segment, variant domain.Variant) string {
	if variant == domain.VariantTranslated && strings.TrimSpace(seg.TranslatedText) != "" {
		return strings.TrimSpace(seg.TranslatedText)
	}
	return strings.TrimSpace(seg.Text)
}

// SRT renders numbered SubRip cues. Cue numbers follow document order, not segment ids.
func SRT(doc domain.TranscriptDocument, variant domain.Variant) string {
	blocks := make([]string, 0, len(doc.Segments))
	for i, seg := range doc.Segments {
		blocks = append(blocks, strings.Join([]string{
			strconv.Itoa(i + 1),
			SRTTimestamp(seg.Start) + " --> " + SRTTimestamp(seg.End),
			segmentText(seg, variant),
		}, "\n"))
	}
	return strings.TrimSpace(strings.Join(blocks, "\n\n")) + "\n"
}

// VTT renders a WebVTT document.
func VTT(doc domain.TranscriptDocument, variant domain.Variant) string {
	lines := []string{"WEBVTT", ""}
	for _, seg := range doc.Segments {
		lines = append(lines,
			VTTTimestamp(seg.Start)+" --> "+VTTTimestamp(seg.End),
			segmentText(seg, variant),
			"",
		)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

// TXT renders one line per segment.
func TXT(doc domain.TranscriptDocument, variant domain.Variant) string {
	lines := make([]string, 0, len(doc.Segments))
	for _, seg := range doc.Segments {
		lines = append(lines, segmentText(seg, variant))
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

const htmlHead = "<!doctype html>" +
	"<html><head><meta charset='utf-8'><title>Transcript</title>" +
	"<style>body{font-family:ui-sans-serif,system-ui}table{border-collapse:collapse;width:100%}" +
	"td,th{border:1px solid #ccc;padding:6px;text-align:left}th{background:#f3f4f6}</style></head><body>"

// HTML renders the combined table view. All transcript text is escaped.
func HTML(doc domain.TranscriptDocument) string {
	var b strings.Builder
	b.WriteString(htmlHead)
	fmt.Fprintf(&b, "<h1>Transcript (%s / %s)</h1>", html.EscapeString(doc.Provider), html.EscapeString(doc.Model))
	language := doc.DetectedLanguage
	if language == "" {
		language = "unknown"
	}
	fmt.Fprintf(&b, "<p>Detected language: %s</p>", html.EscapeString(language))
	b.WriteString("<table><thead><tr><th>#</th><th>Start</th><th>End</th><th>Source</th><th>Translated</th><th>Speaker</th></tr></thead><tbody>")
	for _, seg := range doc.Segments {
		fmt.Fprintf(&b, "<tr><td>%d</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			seg.ID,
			VTTTimestamp(seg.Start),
			VTTTimestamp(seg.End),
			html.EscapeString(seg.Text),
			html.EscapeString(seg.TranslatedText),
			html.EscapeString(seg.Speaker),
		)
	}
	b.WriteString("</tbody></table></body></html>")
	return b.String()
}

// JSON renders the full document as indented JSON.
func JSON(doc domain.TranscriptDocument) (string, error) {
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode transcript json: %w", err)
	}
	return string(data) + "\n", nil
}
