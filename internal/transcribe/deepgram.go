package transcribe

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/translate"
)

const defaultDeepgramBaseURL = "https://api.deepgram.com/v1"

// Deepgram transcribes through the pre-recorded listen endpoint.
type Deepgram struct {
	apiKey     string
	client     remoteClient
	translator *translate.Deepgram
}

// NewDeepgram builds a Deepgram adapter.
func NewDeepgram(apiKey string, opts ...Option) *Deepgram {
	client := newRemoteClient(ProviderDeepgram, defaultDeepgramBaseURL, opts)
	return &Deepgram{
		apiKey: apiKey,
		client: client,
		translator: translate.NewDeepgram(apiKey,
			translate.WithBaseURL(client.baseURL), translate.WithHTTPClient(client.http)),
	}
}

// Name implements Adapter.
func (d *Deepgram) Name() string { return ProviderDeepgram }

type deepgramResponse struct {
	Metadata struct {
		Duration  float64 `json:"duration"`
		RequestID string  `json:"request_id"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
				Words      []struct {
					Word           string   `json:"word"`
					PunctuatedWord string   `json:"punctuated_word"`
					Start          float64  `json:"start"`
					End            float64  `json:"end"`
					Confidence     *float64 `json:"confidence"`
					Speaker        *int     `json:"speaker"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements Adapter.
func (d *Deepgram) Transcribe(ctx context.Context, req Request) (domain.TranscriptDocument, error) {
	query := url.Values{}
	query.Set("model", req.Model)
	query.Set("punctuate", "true")
	query.Set("smart_format", "true")
	query.Set("diarize", strconv.FormatBool(req.DiarizationEnabled))
	if lang := normalizeLanguage(req.SourceLanguage); lang != "" {
		query.Set("language", lang)
	} else {
		query.Set("detect_language", "true")
	}

	var resp deepgramResponse
	err := d.client.postFile(ctx, "/listen?"+query.Encode(), map[string]string{
		"Authorization": "Token " + d.apiKey,
		"Content-Type":  "application/octet-stream",
	}, req.FilePath, &resp)
	if err != nil {
		return domain.TranscriptDocument{}, err
	}

	var (
		transcript string
		detected   string
		words      []Word
	)
	if len(resp.Results.Channels) > 0 {
		channel := resp.Results.Channels[0]
		detected = channel.DetectedLanguage
		if len(channel.Alternatives) > 0 {
			alt := channel.Alternatives[0]
			transcript = alt.Transcript
			for _, w := range alt.Words {
				text := w.PunctuatedWord
				if text == "" {
					text = w.Word
				}
				word := Word{Text: text, Start: w.Start, End: w.End, Confidence: w.Confidence}
				if w.Speaker != nil {
					word.Speaker = fmt.Sprintf("spk-%d", *w.Speaker)
				}
				words = append(words, word)
			}
		}
	}

	meta := withDuration(nil, resp.Metadata.Duration)
	if resp.Metadata.RequestID != "" {
		meta["request_id"] = resp.Metadata.RequestID
	}
	return domain.TranscriptDocument{
		Provider:         ProviderDeepgram,
		Model:            req.Model,
		DetectedLanguage: detected,
		Segments:         ensureSegments(SegmentsFromWords(words), transcript, resp.Metadata.Duration),
		Metadata:         meta,
	}, nil
}

// TranslateNative implements translate.NativeTranslator.
func (d *Deepgram) TranslateNative(ctx context.Context, doc domain.TranscriptDocument, _ string, targetLanguage string) (domain.TranscriptDocument, bool, error) {
	out, err := translate.TranslateSegments(ctx, doc, d.translator, targetLanguage)
	if err != nil {
		return domain.TranscriptDocument{}, false, err
	}
	return out, true, nil
}
