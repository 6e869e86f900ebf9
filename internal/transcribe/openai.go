package transcribe

import (
	"context"
	"strings"

	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/translate"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI transcribes through the audio transcription endpoint.
type OpenAI struct {
	apiKey     string
	client     remoteClient
	translator *translate.OpenAI
}

// NewOpenAI builds an OpenAI adapter. translationModel is the chat model used
// for native translation.
func NewOpenAI(apiKey, translationModel string, opts ...Option) *OpenAI {
	client := newRemoteClient(ProviderOpenAI, defaultOpenAIBaseURL, opts)
	return &OpenAI{
		apiKey: apiKey,
		client: client,
		translator: translate.NewOpenAI(apiKey, translationModel,
			translate.WithBaseURL(client.baseURL), translate.WithHTTPClient(client.http)),
	}
}

// Name implements Adapter.
func (o *OpenAI) Name() string { return ProviderOpenAI }

type openAIVerbose struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// Transcribe implements Adapter.
func (o *OpenAI) Transcribe(ctx context.Context, req Request) (domain.TranscriptDocument, error) {
	// Only whisper-1 returns segment timings; gpt-4o models answer plain json.
	fields := map[string]string{"model": req.Model, "response_format": "json"}
	var repeated map[string][]string
	if req.Model == "whisper-1" {
		fields["response_format"] = "verbose_json"
		granularities := []string{"segment"}
		if req.TimestampLevel == "word" {
			granularities = append(granularities, "word")
		}
		repeated = map[string][]string{"timestamp_granularities[]": granularities}
	}
	if lang := normalizeLanguage(req.SourceLanguage); lang != "" {
		fields["language"] = lang
	}

	var resp openAIVerbose
	err := o.client.postMultipart(ctx, "/audio/transcriptions",
		map[string]string{"Authorization": "Bearer " + o.apiKey},
		fields, repeated, req.FilePath, &resp)
	if err != nil {
		return domain.TranscriptDocument{}, err
	}

	segments := make([]domain.Segment, 0, len(resp.Segments))
	for i, seg := range resp.Segments {
		segments = append(segments, domain.Segment{
			ID:    i + 1,
			Start: seg.Start,
			End:   max(seg.End, seg.Start),
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	if len(segments) == 0 && len(resp.Words) > 0 {
		words := make([]Word, 0, len(resp.Words))
		for _, w := range resp.Words {
			words = append(words, Word{Text: w.Word, Start: w.Start, End: w.End})
		}
		segments = SegmentsFromWords(words)
	}

	return domain.TranscriptDocument{
		Provider:         ProviderOpenAI,
		Model:            req.Model,
		DetectedLanguage: resp.Language,
		Segments:         ensureSegments(segments, resp.Text, resp.Duration),
		Metadata:         withDuration(nil, resp.Duration),
	}, nil
}

// TranslateNative implements translate.NativeTranslator. Only whisper-1
// transcripts are translated natively; other models defer to the chain.
func (o *OpenAI) TranslateNative(ctx context.Context, doc domain.TranscriptDocument, model, targetLanguage string) (domain.TranscriptDocument, bool, error) {
	if model != "whisper-1" {
		return domain.TranscriptDocument{}, false, nil
	}
	out, err := translate.TranslateSegments(ctx, doc, o.translator, targetLanguage)
	if err != nil {
		return domain.TranscriptDocument{}, false, err
	}
	return out, true, nil
}
