package jobs

import (
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/language"

	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/render"
)

const (
	autoLanguage = "auto"
	mib          = 1024 * 1024
)

// Timestamp granularities.
const (
	TimestampSegment = "segment"
	TimestampWord    = "word"
)

// validate rejects unsupported requests before anything is persisted and
// returns the request with defaults applied.
func (s *Service) validate(req domain.JobRequest, inputs []domain.InputMedia) (domain.JobRequest, error) {
	if len(inputs) == 0 {
		return req, domain.Invalidf("at least one input file is required")
	}

	req.Provider = strings.TrimSpace(req.Provider)
	req.Model = strings.TrimSpace(req.Model)
	capability, err := s.lookup(req.Provider, req.Model, s.mode)
	if err != nil {
		return req, err
	}
	if !capability.SupportsBatch && len(inputs) > 1 {
		return req, domain.Invalidf("model %q does not support batch processing", req.Model)
	}
	if req.DiarizationEnabled && !capability.SupportsDiarization {
		return req, domain.Invalidf("model %q does not support diarization", req.Model)
	}
	if req.SpeakerCount != nil {
		if *req.SpeakerCount < 1 {
			return req, domain.Invalidf("speaker count must be positive")
		}
		if !capability.SupportsSpeakerCount {
			return req, domain.Invalidf("model %q does not support an explicit speaker count", req.Model)
		}
	}

	if req.Formats, err = normalizeFormats(req.Formats); err != nil {
		return req, err
	}

	if req.SourceLanguage, err = normalizeLanguage(req.SourceLanguage, true); err != nil {
		return req, err
	}
	if req.SourceLanguage == autoLanguage && !capability.SupportsAutoLanguage {
		return req, domain.Invalidf("model %q requires an explicit source language", req.Model)
	}
	if req.TargetLanguage, err = normalizeLanguage(req.TargetLanguage, false); err != nil {
		return req, err
	}

	switch req.TimestampLevel {
	case "":
		req.TimestampLevel = TimestampSegment
	case TimestampSegment, TimestampWord:
	default:
		return req, domain.Invalidf("unsupported timestamp level %q", req.TimestampLevel)
	}

	if capability.MaxSizeMB > 0 {
		limit := int64(capability.MaxSizeMB) * mib
		for _, input := range inputs {
			if input.SizeBytes > limit {
				return req, domain.Invalidf("%s exceeds the %d MB limit of model %q", input.Name, capability.MaxSizeMB, req.Model)
			}
		}
	}
	return req, nil
}

// normalizeFormats lower-cases, de-duplicates and checks requested formats.
func normalizeFormats(formats []domain.Format) ([]domain.Format, error) {
	cleaned := lo.FilterMap(formats, func(f domain.Format, _ int) (domain.Format, bool) {
		f = domain.Format(strings.ToLower(strings.TrimSpace(string(f))))
		return f, f != ""
	})
	cleaned = lo.Uniq(cleaned)
	if len(cleaned) == 0 {
		return append([]domain.Format(nil), domain.DefaultFormats...), nil
	}
	for _, f := range cleaned {
		if !render.IsOutputFormat(f) {
			return nil, domain.Invalidf("unsupported output format %q", f)
		}
	}
	return cleaned, nil
}

// normalizeLanguage canonicalises a BCP 47 tag. allowAuto maps an empty
// value to "auto"; otherwise an empty value stays empty.
func normalizeLanguage(raw string, allowAuto bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, autoLanguage) {
		if allowAuto {
			return autoLanguage, nil
		}
		if raw == "" {
			return "", nil
		}
		return "", domain.Invalidf("target language cannot be %q", raw)
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", domain.Invalidf("invalid language tag %q", raw)
	}
	return tag.String(), nil
}

// ParseFormats splits a comma separated list of formats.
func ParseFormats(raw string) []domain.Format {
	return lo.FilterMap(strings.Split(raw, ","), func(item string, _ int) (domain.Format, bool) {
		item = strings.TrimSpace(item)
		return domain.Format(item), item != ""
	})
}
