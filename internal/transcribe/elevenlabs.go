package transcribe

import (
	"context"
	"strconv"

	"transcribe-multilingual/internal/domain"
)

const defaultElevenLabsBaseURL = "https://api.elevenlabs.io/v1"

// ElevenLabs transcribes with the Scribe speech-to-text models.
type ElevenLabs struct {
	apiKey string
	client remoteClient
}

// NewElevenLabs builds an ElevenLabs Scribe adapter.
func NewElevenLabs(apiKey string, opts ...Option) *ElevenLabs {
	return &ElevenLabs{apiKey: apiKey, client: newRemoteClient(ProviderElevenLabs, defaultElevenLabsBaseURL, opts)}
}

// Name implements Adapter.
func (e *ElevenLabs) Name() string { return ProviderElevenLabs }

type scribeResponse struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code"`
	Words        []struct {
		Text      string   `json:"text"`
		Type      string   `json:"type"`
		Start     float64  `json:"start"`
		End       float64  `json:"end"`
		SpeakerID *string  `json:"speaker_id"`
		Logprob   *float64 `json:"logprob"`
	} `json:"words"`
}

// Transcribe implements Adapter.
func (e *ElevenLabs) Transcribe(ctx context.Context, req Request) (domain.TranscriptDocument, error) {
	fields := map[string]string{"model_id": req.Model}
	if lang := normalizeLanguage(req.SourceLanguage); lang != "" {
		fields["language_code"] = lang
	}
	if req.DiarizationEnabled {
		fields["diarize"] = "true"
	}
	if req.SpeakerCount != nil {
		fields["num_speakers"] = strconv.Itoa(*req.SpeakerCount)
	}
	if req.TimestampLevel != "" {
		fields["timestamps_granularity"] = req.TimestampLevel
	}

	var resp scribeResponse
	err := e.client.postMultipart(ctx, "/speech-to-text",
		map[string]string{"xi-api-key": e.apiKey}, fields, nil, req.FilePath, &resp)
	if err != nil {
		return domain.TranscriptDocument{}, err
	}

	words := make([]Word, 0, len(resp.Words))
	var duration float64
	for _, w := range resp.Words {
		duration = max(duration, w.End)
		if w.Type == "spacing" || w.Type == "audio_event" {
			continue
		}
		word := Word{Text: w.Text, Start: w.Start, End: w.End}
		if w.SpeakerID != nil {
			word.Speaker = *w.SpeakerID
		}
		words = append(words, word)
	}

	return domain.TranscriptDocument{
		Provider:         ProviderElevenLabs,
		Model:            req.Model,
		DetectedLanguage: resp.LanguageCode,
		Segments:         ensureSegments(SegmentsFromWords(words), resp.Text, duration),
		Metadata:         withDuration(nil, duration),
	}, nil
}
