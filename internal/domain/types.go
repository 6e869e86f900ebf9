package domain

import "time"

// Status is the lifecycle state shared by jobs and files.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// InputSource tells where a raw input file came from.
type InputSource string

const (
	// InputSourceUpload files live in managed storage and are removed by retention.
	InputSourceUpload InputSource = "upload"
	// InputSourceFolder files are user-owned and never deleted.
	InputSourceFolder InputSource = "folder"
)

// Format is an output artifact format.
type Format string

const (
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatHTML Format = "html"
	FormatTXT  Format = "txt"
	FormatJSON Format = "json"
	FormatZIP  Format = "zip"
)

// OutputFormats lists the formats a job may request, in canonical order.
var OutputFormats = []Format{FormatSRT, FormatVTT, FormatHTML, FormatTXT, FormatJSON}

// DefaultFormats is used when a request names no formats.
var DefaultFormats = []Format{FormatJSON, FormatTXT}

// Variant selects which text of a transcript an artifact carries.
type Variant string

const (
	VariantNone       Variant = ""
	VariantSource     Variant = "source"
	VariantTranslated Variant = "translated"
	VariantCombined   Variant = "combined"
)

// ArtifactKind classifies artifacts for listing and bundling.
type ArtifactKind string

const (
	KindSource     ArtifactKind = "source"
	KindTranslated ArtifactKind = "translated"
	KindCombined   ArtifactKind = "combined"
	KindBundle     ArtifactKind = "bundle"
)

// Payload is a persisted warning or error with a stable code.
type Payload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResultSummary is stored on a job once processing finishes.
type ResultSummary struct {
	ProcessedFiles int `json:"processed_files"`
	FailedFiles    int `json:"failed_files"`
}

// JobOptions holds free-form request options persisted with the job.
type JobOptions struct {
	Formats            []Format `json:"formats"`
	DiarizationEnabled bool     `json:"diarization_enabled"`
	SpeakerCount       *int     `json:"speaker_count,omitempty"`
	SyncPreferred      bool     `json:"sync_preferred"`
	TimestampLevel     string   `json:"timestamp_level,omitempty"`
	VerboseOutput      bool     `json:"verbose_output"`
	BatchLabel         string   `json:"batch_label,omitempty"`
	LocalFolder        string   `json:"local_folder,omitempty"`
}

// Job is one batch submission.
type Job struct {
	ID                 string         `json:"id"`
	Status             Status         `json:"status"`
	Provider           string         `json:"provider"`
	Model              string         `json:"model"`
	SourceLanguage     string         `json:"source_language"`
	TargetLanguage     string         `json:"target_language,omitempty"`
	TranslationEnabled bool           `json:"translation_enabled"`
	Options            JobOptions     `json:"options"`
	Warning            *Payload       `json:"warning,omitempty"`
	Error              *Payload       `json:"error,omitempty"`
	Result             *ResultSummary `json:"result,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// TranslationRequested reports whether processing should run the fallback engine.
func (j Job) TranslationRequested() bool {
	return j.TranslationEnabled && j.TargetLanguage != ""
}

// File is one input of a job.
type File struct {
	ID               string      `json:"id"`
	JobID            string      `json:"job_id"`
	InputName        string      `json:"input_name"`
	InputSource      InputSource `json:"input_source"`
	SizeBytes        int64       `json:"size_bytes"`
	StoragePath      string      `json:"-"`
	Status           Status      `json:"status"`
	DetectedLanguage string      `json:"detected_language,omitempty"`
	DurationSec      *float64    `json:"duration_sec,omitempty"`
	Warning          *Payload    `json:"warning,omitempty"`
	Error            *Payload    `json:"error,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Artifact is an immutable rendered output. FileID is empty for job-level bundles.
type Artifact struct {
	ID          string       `json:"id"`
	JobID       string       `json:"job_id"`
	FileID      string       `json:"file_id,omitempty"`
	Format      Format       `json:"format"`
	Variant     Variant      `json:"variant,omitempty"`
	Name        string       `json:"name"`
	MimeType    string       `json:"mime_type"`
	Kind        ArtifactKind `json:"kind"`
	StoragePath string       `json:"-"`
	SizeBytes   int64        `json:"size_bytes"`
	CreatedAt   time.Time    `json:"created_at"`
}

// JobRequest is the caller's description of a new batch job.
type JobRequest struct {
	Provider           string
	Model              string
	SourceLanguage     string
	TargetLanguage     string
	Formats            []Format
	DiarizationEnabled bool
	SpeakerCount       *int
	TranslationEnabled bool
	SyncPreferred      bool
	TimestampLevel     string
	VerboseOutput      bool
	BatchLabel         string
	LocalFolder        string
}

// InputMedia is a raw input already placed where the worker can read it.
type InputMedia struct {
	Name      string
	Source    InputSource
	SizeBytes int64
	Path      string
}

// FileSnapshot is a file with the artifacts rendered from it.
type FileSnapshot struct {
	File
	Artifacts []Artifact `json:"artifacts"`
}

// JobSnapshot is a point-in-time view of a job, its files and job-level artifacts.
type JobSnapshot struct {
	Job
	DurationSec *float64       `json:"duration_sec,omitempty"`
	Files       []FileSnapshot `json:"files"`
	Artifacts   []Artifact     `json:"artifacts"`
}

// AppSettings are the runtime-overridable settings in effect.
type AppSettings struct {
	SyncSizeThresholdMB      int      `json:"sync_size_threshold_mb"`
	RetentionDays            int      `json:"retention_days"`
	TranslationFallbackOrder []string `json:"translation_fallback_order"`
	LocalFolderAllowlist     []string `json:"local_folder_allowlist"`
}

// APIKeyInfo describes a stored provider key without revealing it.
type APIKeyInfo struct {
	Provider  string    `json:"provider"`
	UpdatedAt time.Time `json:"updated_at"`
}
