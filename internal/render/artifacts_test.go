package render

import (
	"strings"
	"testing"

	"transcribe-multilingual/internal/domain"
)

// TestSanitizePrefix covers lower-casing, collapsing and fallback.
func TestSanitizePrefix(t *testing.T) {
	cases := map[string]string{
		"My Clip (final).MP4":   "my_clip_final",
		"interview__01.wav":     "interview_01",
		"/tmp/uploads/talk.mp3": "talk",
		"Ünïcode.mp3":           "n_code",
		"???.wav":               "file",
		"":                      "file",
		"archive.tar.gz":        "archive.tar",
	}
	for in, want := range cases {
		if got := SanitizePrefix(in); got != want {
			t.Fatalf("SanitizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestArtifactName checks per-format naming rules.
func TestArtifactName(t *testing.T) {
	if got := ArtifactName("clip", domain.FormatSRT, domain.VariantTranslated); got != "clip__translated.srt" {
		t.Fatalf("srt name = %q", got)
	}
	if got := ArtifactName("clip", domain.FormatHTML, domain.VariantCombined); got != "clip__combined.html" {
		t.Fatalf("html name = %q", got)
	}
	if got := ArtifactName("clip", domain.FormatJSON, domain.VariantCombined); got != "clip__transcript.json" {
		t.Fatalf("json name = %q", got)
	}
}

// TestRenderAllWithoutTranslation yields only source variants for text formats.
func TestRenderAllWithoutTranslation(t *testing.T) {
	all := []domain.Format{domain.FormatSRT, domain.FormatVTT, domain.FormatTXT, domain.FormatHTML, domain.FormatJSON}
	items, err := RenderAll(sampleDocument(false), "clip.mp4", all)
	if err != nil {
		t.Fatalf("RenderAll() error = %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("items = %d, want 5", len(items))
	}
	for _, item := range items {
		if item.Variant == domain.VariantTranslated {
			t.Fatalf("unexpected translated variant: %s", item.Name)
		}
	}
}

// TestRenderAllWithTranslation yields source+translated and one combined each.
func TestRenderAllWithTranslation(t *testing.T) {
	all := []domain.Format{domain.FormatSRT, domain.FormatVTT, domain.FormatTXT, domain.FormatHTML, domain.FormatJSON}
	items, err := RenderAll(sampleDocument(true), "clip.mp4", all)
	if err != nil {
		t.Fatalf("RenderAll() error = %v", err)
	}

	counts := map[domain.ArtifactKind]int{}
	perFormat := map[domain.Format]int{}
	for _, item := range items {
		counts[item.Kind]++
		perFormat[item.Format]++
	}
	if counts[domain.KindSource] != 3 || counts[domain.KindTranslated] != 3 || counts[domain.KindCombined] != 2 {
		t.Fatalf("kinds = %+v", counts)
	}
	if perFormat[domain.FormatHTML] != 1 || perFormat[domain.FormatJSON] != 1 {
		t.Fatalf("combined formats = %+v", perFormat)
	}
}

// TestRenderRejectsUnknownFormat checks the error path.
func TestRenderRejectsUnknownFormat(t *testing.T) {
	if _, err := Render(sampleDocument(false), "clip", domain.FormatZIP, domain.VariantNone); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

// TestManifestEncode checks empty artifact lists encode as arrays.
func TestManifestEncode(t *testing.T) {
	out, err := Manifest{JobID: "job-1"}.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(out, `"job_id": "job-1"`) || !strings.Contains(out, `"artifacts": []`) {
		t.Fatalf("manifest = %s", out)
	}
}
