package transcribe

import (
	"testing"

	"transcribe-multilingual/internal/domain"
)

// TestLookupKnownModel returns the table entry.
func TestLookupKnownModel(t *testing.T) {
	model, err := Lookup(ProviderElevenLabs, "scribe_v2", ModeLocal)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !model.SupportsDiarization || !model.SupportsSpeakerCount || model.MaxSizeMB != 500 {
		t.Fatalf("capability = %+v", model)
	}
}

// TestLookupRejectsUnknownAndDisabled checks validation errors.
func TestLookupRejectsUnknownAndDisabled(t *testing.T) {
	cases := []struct {
		provider, model, mode string
	}{
		{"nope", "x", ModeLocal},
		{ProviderOpenAI, "whisper-2", ModeLocal},
		{ProviderWhisperLocal, "tiny", ModeCloudflare},
	}
	for _, tc := range cases {
		_, err := Lookup(tc.provider, tc.model, tc.mode)
		if !domain.IsValidation(err) {
			t.Fatalf("Lookup(%s, %s, %s) error = %v, want validation error", tc.provider, tc.model, tc.mode, err)
		}
	}
}

// TestListHidesLocalInCloudflareMode checks mode filtering.
func TestListHidesLocalInCloudflareMode(t *testing.T) {
	local := List(ModeLocal)
	if len(local) != 4 || local[0].Provider != ProviderWhisperLocal {
		t.Fatalf("local providers = %+v", local)
	}
	for _, p := range List(ModeCloudflare) {
		if p.Provider == ProviderWhisperLocal {
			t.Fatal("whisper-local listed in cloudflare mode")
		}
	}
}

// TestKeyedProviders lists every remote provider.
func TestKeyedProviders(t *testing.T) {
	got := KeyedProviders()
	if len(got) != 3 || RequiresKey(ProviderWhisperLocal) || !RequiresKey(ProviderDeepgram) {
		t.Fatalf("keyed providers = %v", got)
	}
}
