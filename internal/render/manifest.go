package render

import (
	"encoding/json"
	"fmt"
	"time"
)

// ManifestName is the archive entry holding the bundle manifest.
const ManifestName = "job_manifest.json"

// Manifest summarises a job inside its bundle archive.
type Manifest struct {
	JobID          string    `json:"job_id"`
	GeneratedAt    time.Time `json:"generated_at"`
	ProcessedFiles int       `json:"processed_files"`
	FailedFiles    int       `json:"failed_files"`
	Artifacts      []string  `json:"artifacts"`
}

// Encode serialises the manifest as indented JSON.
func (m Manifest) Encode() (string, error) {
	if m.Artifacts == nil {
		m.Artifacts = []string{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	return string(data), nil
}
