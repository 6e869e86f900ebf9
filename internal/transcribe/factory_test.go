package transcribe

import (
	"context"
	"errors"
	"testing"

	"transcribe-multilingual/internal/domain"
)

// fakeKeys serves API keys from a map.
type fakeKeys struct {
	keys map[string]string
	err  error
}

// APIKey implements KeySource.
func (f fakeKeys) APIKey(_ context.Context, provider string) (string, error) {
	return f.keys[provider], f.err
}

func testDoc() domain.TranscriptDocument {
	return domain.TranscriptDocument{
		Provider: ProviderDeepgram,
		Model:    "nova-3",
		Segments: []domain.Segment{{ID: 1, Start: 0, End: 1, Text: "yes"}},
	}
}

// TestFactoryAdapterByProvider builds the matching concrete adapter.
func TestFactoryAdapterByProvider(t *testing.T) {
	f := &Factory{Keys: fakeKeys{keys: map[string]string{
		ProviderOpenAI:     "a",
		ProviderElevenLabs: "b",
		ProviderDeepgram:   "c",
	}}}

	for _, provider := range []string{ProviderWhisperLocal, ProviderOpenAI, ProviderElevenLabs, ProviderDeepgram} {
		adapter, err := f.Adapter(context.Background(), provider)
		if err != nil {
			t.Fatalf("Adapter(%s) error = %v", provider, err)
		}
		if adapter.Name() != provider {
			t.Fatalf("Adapter(%s).Name() = %s", provider, adapter.Name())
		}
	}
}

// TestFactoryAdapterMissingKey fails with a credentials ProviderError.
func TestFactoryAdapterMissingKey(t *testing.T) {
	f := &Factory{Keys: fakeKeys{}}
	_, err := f.Adapter(context.Background(), ProviderDeepgram)

	var pErr *ProviderError
	if !errors.As(err, &pErr) || pErr.Stage != "credentials" {
		t.Fatalf("error = %v, want credentials ProviderError", err)
	}
}

// TestFactoryTranslatorsOnlyWithKeys skips unconfigured backends.
func TestFactoryTranslatorsOnlyWithKeys(t *testing.T) {
	f := &Factory{Keys: fakeKeys{keys: map[string]string{ProviderDeepgram: "dg"}}}
	got := f.Translators(context.Background())
	if len(got) != 1 || got[ProviderDeepgram] == nil {
		t.Fatalf("translators = %v", got)
	}

	f = &Factory{Keys: fakeKeys{err: errors.New("store down")}}
	if got := f.Translators(context.Background()); len(got) != 0 {
		t.Fatalf("translators = %v, want none", got)
	}
}
