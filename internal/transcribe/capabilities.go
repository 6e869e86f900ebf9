package transcribe

import (
	"transcribe-multilingual/internal/domain"
)

// Deployment modes.
const (
	ModeLocal      = "local"
	ModeCloudflare = "cloudflare"
)

// Provider names.
const (
	ProviderWhisperLocal = "whisper-local"
	ProviderOpenAI       = "openai"
	ProviderElevenLabs   = "elevenlabs-scribe"
	ProviderDeepgram     = "deepgram"
)

// AllLanguages marks a model that can target any language.
const AllLanguages = "*"

// ModelCapability describes what one provider model supports.
type ModelCapability struct {
	ID                        string `json:"id"`
	MaxDurationSec            int    `json:"max_duration_sec"`
	MaxSizeMB                 int    `json:"max_size_mb"`
	SupportsDiarization       bool   `json:"supports_diarization"`
	SupportsSpeakerCount      bool   `json:"supports_speaker_count"`
	SupportsAutoLanguage      bool   `json:"supports_auto_language"`
	SupportsTranslationNative bool   `json:"supports_translation_native"`
	SupportsBatch             bool   `json:"supports_batch"`
	SupportedTargetLanguages  string `json:"supported_target_languages"`
}

// ProviderCapability groups the models of one provider.
type ProviderCapability struct {
	Provider       string            `json:"provider"`
	RequiresAPIKey bool              `json:"requires_api_key"`
	Models         []ModelCapability `json:"models"`
}

var providerOrder = []string{ProviderWhisperLocal, ProviderOpenAI, ProviderElevenLabs, ProviderDeepgram}

var capabilities = map[string]ProviderCapability{
	ProviderWhisperLocal: {
		Provider: ProviderWhisperLocal,
		Models: []ModelCapability{
			localModel("tiny", 7200, 200),
			localModel("small", 7200, 300),
			localModel("medium", 10800, 500),
		},
	},
	ProviderOpenAI: {
		Provider:       ProviderOpenAI,
		RequiresAPIKey: true,
		Models: []ModelCapability{
			openAIModel("gpt-4o-mini-transcribe"),
			openAIModel("whisper-1"),
		},
	},
	ProviderElevenLabs: {
		Provider:       ProviderElevenLabs,
		RequiresAPIKey: true,
		Models: []ModelCapability{
			scribeModel("scribe_v1", 7200, 400),
			scribeModel("scribe_v2", 10800, 500),
		},
	},
	ProviderDeepgram: {
		Provider:       ProviderDeepgram,
		RequiresAPIKey: true,
		Models: []ModelCapability{{
			ID:                        "nova-3",
			MaxDurationSec:            10800,
			MaxSizeMB:                 500,
			SupportsDiarization:       true,
			SupportsAutoLanguage:      true,
			SupportsTranslationNative: true,
			SupportsBatch:             true,
			SupportedTargetLanguages:  AllLanguages,
		}},
	},
}

func localModel(id string, maxDuration, maxSize int) ModelCapability {
	return ModelCapability{
		ID:                       id,
		MaxDurationSec:           maxDuration,
		MaxSizeMB:                maxSize,
		SupportsAutoLanguage:     true,
		SupportsBatch:            true,
		SupportedTargetLanguages: AllLanguages,
	}
}

func openAIModel(id string) ModelCapability {
	return ModelCapability{
		ID:                        id,
		MaxDurationSec:            7200,
		MaxSizeMB:                 200,
		SupportsAutoLanguage:      true,
		SupportsTranslationNative: true,
		SupportsBatch:             true,
		SupportedTargetLanguages:  AllLanguages,
	}
}

func scribeModel(id string, maxDuration, maxSize int) ModelCapability {
	return ModelCapability{
		ID:                       id,
		MaxDurationSec:           maxDuration,
		MaxSizeMB:                maxSize,
		SupportsDiarization:      true,
		SupportsSpeakerCount:     true,
		SupportsAutoLanguage:     true,
		SupportsBatch:            true,
		SupportedTargetLanguages: AllLanguages,
	}
}

// ProviderEnabled reports whether provider may be used in mode.
func ProviderEnabled(provider, mode string) bool {
	if _, ok := capabilities[provider]; !ok {
		return false
	}
	return !(mode == ModeCloudflare && provider == ProviderWhisperLocal)
}

// RequiresKey reports whether provider needs an API key. Unknown providers return false.
func RequiresKey(provider string) bool {
	return capabilities[provider].RequiresAPIKey
}

// Lookup returns the capability of provider/model in mode, or a ValidationError.
func Lookup(provider, model, mode string) (ModelCapability, error) {
	providerCap, ok := capabilities[provider]
	if !ok {
		return ModelCapability{}, domain.Invalidf("unsupported provider %q", provider)
	}
	if !ProviderEnabled(provider, mode) {
		return ModelCapability{}, domain.Invalidf("%s is disabled in %s mode", provider, mode)
	}
	for _, m := range providerCap.Models {
		if m.ID == model {
			return m, nil
		}
	}
	return ModelCapability{}, domain.Invalidf("unsupported model %q for provider %q", model, provider)
}

// List returns the providers enabled in mode, in a stable order.
func List(mode string) []ProviderCapability {
	out := make([]ProviderCapability, 0, len(providerOrder))
	for _, name := range providerOrder {
		if !ProviderEnabled(name, mode) {
			continue
		}
		providerCap := capabilities[name]
		providerCap.Models = append([]ModelCapability(nil), providerCap.Models...)
		out = append(out, providerCap)
	}
	return out
}

// KeyedProviders returns providers that need an API key.
func KeyedProviders() []string {
	out := make([]string, 0, len(providerOrder))
	for _, name := range providerOrder {
		if capabilities[name].RequiresAPIKey {
			out = append(out, name)
		}
	}
	return out
}
