package render

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"transcribe-multilingual/internal/domain"
)

var (
	unsafeNameChars = regexp.MustCompile(`[^a-z0-9._-]+`)
	underscoreRuns  = regexp.MustCompile(`_+`)
)

var mimeTypes = map[domain.Format]string{
	domain.FormatSRT:  "application/x-subrip",
	domain.FormatVTT:  "text/vtt",
	domain.FormatHTML: "text/html",
	domain.FormatTXT:  "text/plain",
	domain.FormatJSON: "application/json",
	domain.FormatZIP:  "application/zip",
}

// Rendered is the content of one artifact ready to be written.
type Rendered struct {
	Name     string
	Format   domain.Format
	Variant  domain.Variant
	Kind     domain.ArtifactKind
	MimeType string
	Content  string
}

// SanitizePrefix derives a safe artifact name prefix from an input file name.
func SanitizePrefix(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	stem = strings.ToLower(strings.TrimSpace(stem))
	stem = unsafeNameChars.ReplaceAllString(stem, "_")
	stem = underscoreRuns.ReplaceAllString(stem, "_")
	stem = strings.Trim(stem, "_")
	if stem == "" || stem == "." {
		return "file"
	}
	return stem
}

// ArtifactName builds the file name for one format/variant pair.
func ArtifactName(prefix string, format domain.Format, variant domain.Variant) string {
	switch format {
	case domain.FormatJSON:
		return prefix + "__transcript.json"
	case domain.FormatHTML:
		return prefix + "__combined.html"
	default:
		return fmt.Sprintf("%s__%s.%s", prefix, variant, format)
	}
}

// MimeType returns the content type for a format.
func MimeType(format domain.Format) string {
	if mime, ok := mimeTypes[format]; ok {
		return mime
	}
	return "application/octet-stream"
}

// Variants resolves the variant set rendered for a format.
func Variants(format domain.Format, hasTranslation bool) []domain.Variant {
	switch format {
	case domain.FormatSRT, domain.FormatVTT, domain.FormatTXT:
		if hasTranslation {
			return []domain.Variant{domain.VariantSource, domain.VariantTranslated}
		}
		return []domain.Variant{domain.VariantSource}
	case domain.FormatHTML, domain.FormatJSON:
		return []domain.Variant{domain.VariantCombined}
	default:
		return nil
	}
}

// KindFor maps an artifact variant to its kind.
func KindFor(variant domain.Variant) domain.ArtifactKind {
	switch variant {
	case domain.VariantSource:
		return domain.KindSource
	case domain.VariantTranslated:
		return domain.KindTranslated
	default:
		return domain.KindCombined
	}
}

// IsOutputFormat reports whether format may be requested by a job.
func IsOutputFormat(format domain.Format) bool {
	switch format {
	case domain.FormatSRT, domain.FormatVTT, domain.FormatHTML, domain.FormatTXT, domain.FormatJSON:
		return true
	default:
		return false
	}
}

// Render produces one artifact for a format and variant.
func Render(doc domain.TranscriptDocument, prefix string, format domain.Format, variant domain.Variant) (Rendered, error) {
	var content string
	switch format {
	case domain.FormatSRT:
		content = SRT(doc, variant)
	case domain.FormatVTT:
		content = VTT(doc, variant)
	case domain.FormatTXT:
		content = TXT(doc, variant)
	case domain.FormatHTML:
		content = HTML(doc)
	case domain.FormatJSON:
		var err error
		if content, err = JSON(doc); err != nil {
			return Rendered{}, err
		}
	default:
		return Rendered{}, fmt.Errorf("unsupported output format %q", format)
	}

	return Rendered{
		Name:     ArtifactName(prefix, format, variant),
		Format:   format,
		Variant:  variant,
		Kind:     KindFor(variant),
		MimeType: MimeType(format),
		Content:  content,
	}, nil
}

// RenderAll renders every artifact requested by formats, in format order.
func RenderAll(doc domain.TranscriptDocument, inputName string, formats []domain.Format) ([]Rendered, error) {
	prefix := SanitizePrefix(inputName)
	translated := doc.HasTranslation()

	out := make([]Rendered, 0, len(formats)*2)
	for _, format := range formats {
		for _, variant := range Variants(format, translated) {
			item, err := Render(doc, prefix, format, variant)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
	}
	return out, nil
}
