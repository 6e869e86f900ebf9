package transcribe

import (
	"context"
	"fmt"

	"transcribe-multilingual/internal/translate"
)

// KeySource yields decrypted provider API keys. An empty key means none is configured.
type KeySource interface {
	APIKey(ctx context.Context, provider string) (string, error)
}

// Factory builds adapters and text translators from stored credentials.
type Factory struct {
	Local            LocalConfig
	Keys             KeySource
	TranslationModel string
	Options          []Option
	TranslateOptions []translate.Option
}

// Adapter returns the adapter for provider. Keyed providers without a key fail
// with a ProviderError so the failure is recorded per file.
func (f *Factory) Adapter(ctx context.Context, provider string) (Adapter, error) {
	if provider == ProviderWhisperLocal {
		return NewLocal(f.Local), nil
	}

	key, err := f.key(ctx, provider)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, &ProviderError{Provider: provider, Stage: "credentials", Message: fmt.Sprintf("%s provider requires an API key", provider)}
	}

	switch provider {
	case ProviderOpenAI:
		return NewOpenAI(key, f.TranslationModel, f.Options...), nil
	case ProviderElevenLabs:
		return NewElevenLabs(key, f.Options...), nil
	case ProviderDeepgram:
		return NewDeepgram(key, f.Options...), nil
	default:
		return nil, &ProviderError{Provider: provider, Stage: "credentials", Message: "unsupported provider"}
	}
}

// Translators returns the text translation backends that have credentials.
func (f *Factory) Translators(ctx context.Context) map[string]translate.Translator {
	out := map[string]translate.Translator{}
	if key, err := f.key(ctx, ProviderOpenAI); err == nil && key != "" {
		out[ProviderOpenAI] = translate.NewOpenAI(key, f.TranslationModel, f.TranslateOptions...)
	}
	if key, err := f.key(ctx, ProviderDeepgram); err == nil && key != "" {
		out[ProviderDeepgram] = translate.NewDeepgram(key, f.TranslateOptions...)
	}
	return out
}

func (f *Factory) key(ctx context.Context, provider string) (string, error) {
	if f.Keys == nil {
		return "", nil
	}
	key, err := f.Keys.APIKey(ctx, provider)
	if err != nil {
		return "", &ProviderError{Provider: provider, Stage: "credentials", Message: "cannot load API key", Err: err}
	}
	return key, nil
}
