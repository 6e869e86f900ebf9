package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"transcribe-multilingual/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Postgres is the PostgreSQL Store. It also holds setting overrides and
// encrypted provider keys.
type Postgres struct {
	DB *sql.DB
}

// OpenPostgres opens and pings a database with a bounded connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{DB: db}, nil
}

// Migrate creates the schema when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	return p.DB.Close()
}

const jobColumns = `id, status, provider, model, source_language, target_language, translation_enabled,
	options, warning, error, result, created_at, updated_at`

const fileColumns = `id, job_id, input_name, input_source, size_bytes, storage_path, status,
	detected_language, duration_sec, warning, error, created_at, updated_at`

const artifactColumns = `id, job_id, file_id, format, variant, name, mime_type, kind, storage_path, size_bytes, created_at`

type scanner interface {
	Scan(dest ...any) error
}

// CreateJob implements Store. The job and its files are inserted in one transaction.
func (p *Postgres) CreateJob(ctx context.Context, job domain.Job, files []domain.File) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, status, provider, model, source_language, target_language, translation_enabled,
			options, warning, error, result, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Status, job.Provider, job.Model, job.SourceLanguage, job.TargetLanguage, job.TranslationEnabled,
		string(options), jsonOrNull(job.Warning), jsonOrNull(job.Error), jsonOrNull(job.Result), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for i, f := range files {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_files (id, job_id, position, input_name, input_source, size_bytes, storage_path, status,
				detected_language, duration_sec, warning, error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			f.ID, f.JobID, i, f.InputName, f.InputSource, f.SizeBytes, f.StoragePath, f.Status,
			f.DetectedLanguage, f.DurationSec, jsonOrNull(f.Warning), jsonOrNull(f.Error), f.CreatedAt, f.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
	}
	return tx.Commit()
}

// GetJob implements Store.
func (p *Postgres) GetJob(ctx context.Context, id string) (domain.Job, error) {
	if !isUUID(id) {
		return domain.Job{}, domain.NotFound("job", id)
	}
	row := p.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.NotFound("job", id)
	}
	return job, err
}

// ListJobs implements Store. Newest jobs come first.
func (p *Postgres) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := p.DB.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ListJobIDsByStatus implements Store, oldest first.
func (p *Postgres) ListJobIDsByStatus(ctx context.Context, status domain.Status) ([]string, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT id FROM jobs WHERE status = $1 ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateJob implements Store.
func (p *Postgres) UpdateJob(ctx context.Context, job domain.Job, expected domain.Status) error {
	if !isUUID(job.ID) {
		return domain.NotFound("job", job.ID)
	}
	res, err := p.DB.ExecContext(ctx, `
		UPDATE jobs SET status = $2, warning = $3, error = $4, result = $5, updated_at = $6
		WHERE id = $1 AND status = $7`,
		job.ID, job.Status, jsonOrNull(job.Warning), jsonOrNull(job.Error), jsonOrNull(job.Result), job.UpdatedAt, expected)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current domain.Status
	err = p.DB.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, job.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound("job", job.ID)
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	return fmt.Errorf("job %s is %s, not %s: %w", job.ID, current, expected, ErrStatusChanged)
}

// ListFiles implements Store, in input order.
func (p *Postgres) ListFiles(ctx context.Context, jobID string) ([]domain.File, error) {
	if !isUUID(jobID) {
		return nil, nil
	}
	rows, err := p.DB.QueryContext(ctx, `SELECT `+fileColumns+` FROM job_files WHERE job_id = $1 ORDER BY position ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateFile implements Store.
func (p *Postgres) UpdateFile(ctx context.Context, file domain.File) error {
	res, err := p.DB.ExecContext(ctx, `
		UPDATE job_files SET status = $2, detected_language = $3, duration_sec = $4, warning = $5, error = $6, updated_at = $7
		WHERE id = $1`,
		file.ID, file.Status, file.DetectedLanguage, file.DurationSec, jsonOrNull(file.Warning), jsonOrNull(file.Error), file.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return requireRow(res, "file", file.ID)
}

// AddArtifact implements Store.
func (p *Postgres) AddArtifact(ctx context.Context, a domain.Artifact) error {
	var fileID sql.NullString
	if a.FileID != "" {
		fileID = sql.NullString{String: a.FileID, Valid: true}
	}
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.JobID, fileID, a.Format, a.Variant, a.Name, a.MimeType, a.Kind, a.StoragePath, a.SizeBytes, a.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return domain.NotFound("job", a.JobID)
		}
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// ListArtifacts implements Store, in creation order.
func (p *Postgres) ListArtifacts(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	if !isUUID(jobID) {
		return nil, nil
	}
	rows, err := p.DB.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE job_id = $1 ORDER BY created_at ASC, name ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetArtifact implements Store.
func (p *Postgres) GetArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	if !isUUID(id) {
		return domain.Artifact{}, domain.NotFound("artifact", id)
	}
	row := p.DB.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Artifact{}, domain.NotFound("artifact", id)
	}
	return a, err
}

// DeleteJob implements Store.
func (p *Postgres) DeleteJob(ctx context.Context, id string) ([]string, error) {
	if !isUUID(id) {
		return nil, domain.NotFound("job", id)
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	paths, err := collectPaths(ctx, tx, `
		SELECT storage_path FROM artifacts WHERE job_id = $1
		UNION ALL
		SELECT storage_path FROM job_files WHERE job_id = $1 AND input_source = 'upload'`, id)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("delete job: %w", err)
	}
	if err := requireRow(res, "job", id); err != nil {
		return nil, err
	}
	return paths, tx.Commit()
}

// DeleteOlderThan implements Store. Expired jobs cascade to their files and artifacts.
func (p *Postgres) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	paths, err := collectPaths(ctx, tx, `
		SELECT a.storage_path FROM artifacts a
		LEFT JOIN job_files f ON f.id = a.file_id
		JOIN jobs j ON j.id = a.job_id
		WHERE a.created_at < $1 OR f.updated_at < $1 OR j.updated_at < $1
		UNION ALL
		SELECT f.storage_path FROM job_files f
		JOIN jobs j ON j.id = f.job_id
		WHERE f.input_source = 'upload' AND (f.updated_at < $1 OR j.updated_at < $1)`, cutoff)
	if err != nil {
		return nil, err
	}

	for _, stmt := range []string{
		`DELETE FROM artifacts WHERE created_at < $1`,
		`DELETE FROM job_files WHERE updated_at < $1`,
		`DELETE FROM jobs WHERE updated_at < $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, cutoff); err != nil {
			return nil, fmt.Errorf("delete expired: %w", err)
		}
	}
	return paths, tx.Commit()
}

// ClaimJob records worker as the owner of a queued job. It succeeds when the
// job is unclaimed, already held by worker, or held by a claim older than ttl.
func (p *Postgres) ClaimJob(ctx context.Context, jobID, worker string, ttl time.Duration) (bool, error) {
	if !isUUID(jobID) {
		return false, nil
	}
	res, err := p.DB.ExecContext(ctx, `
		INSERT INTO job_claims (job_id, worker, claimed_at)
		SELECT id, $2, now() FROM jobs WHERE id = $1 AND status = 'queued'
		ON CONFLICT (job_id) DO UPDATE SET worker = EXCLUDED.worker, claimed_at = EXCLUDED.claimed_at
		WHERE job_claims.worker = EXCLUDED.worker
		   OR job_claims.claimed_at < now() - make_interval(secs => $3)`,
		jobID, worker, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetSetting implements config.SettingsStore.
func (p *Postgres) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.DB.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting implements config.SettingsStore.
func (p *Postgres) SetSetting(ctx context.Context, key, value string) error {
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO app_settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, key, value)
	return err
}

// PutAPIKey implements secrets.KeyStore.
func (p *Postgres) PutAPIKey(ctx context.Context, provider, encrypted string) error {
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO api_keys (provider, encrypted_key, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (provider) DO UPDATE SET encrypted_key = EXCLUDED.encrypted_key, updated_at = EXCLUDED.updated_at`,
		provider, encrypted)
	return err
}

// APIKeyCipher implements secrets.KeyStore.
func (p *Postgres) APIKeyCipher(ctx context.Context, provider string) (string, bool, error) {
	var value string
	err := p.DB.QueryRowContext(ctx, `SELECT encrypted_key FROM api_keys WHERE provider = $1`, provider).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// DeleteAPIKey implements secrets.KeyStore.
func (p *Postgres) DeleteAPIKey(ctx context.Context, provider string) error {
	_, err := p.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE provider = $1`, provider)
	return err
}

// ListAPIKeys implements secrets.KeyStore.
func (p *Postgres) ListAPIKeys(ctx context.Context) ([]domain.APIKeyInfo, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT provider, updated_at FROM api_keys ORDER BY provider ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.APIKeyInfo
	for rows.Next() {
		var info domain.APIKeyInfo
		if err := rows.Scan(&info.Provider, &info.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func scanJob(s scanner) (domain.Job, error) {
	var (
		job                     domain.Job
		options                 []byte
		warning, jobErr, result []byte
	)
	err := s.Scan(&job.ID, &job.Status, &job.Provider, &job.Model, &job.SourceLanguage, &job.TargetLanguage,
		&job.TranslationEnabled, &options, &warning, &jobErr, &result, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return domain.Job{}, err
	}
	if err := decodeJSON(options, &job.Options); err != nil {
		return domain.Job{}, err
	}
	if job.Warning, err = decodePayload(warning); err != nil {
		return domain.Job{}, err
	}
	if job.Error, err = decodePayload(jobErr); err != nil {
		return domain.Job{}, err
	}
	if len(result) > 0 {
		job.Result = &domain.ResultSummary{}
		if err := decodeJSON(result, job.Result); err != nil {
			return domain.Job{}, err
		}
	}
	return job, nil
}

func scanFile(s scanner) (domain.File, error) {
	var (
		f                domain.File
		duration         sql.NullFloat64
		warning, fileErr []byte
	)
	err := s.Scan(&f.ID, &f.JobID, &f.InputName, &f.InputSource, &f.SizeBytes, &f.StoragePath, &f.Status,
		&f.DetectedLanguage, &duration, &warning, &fileErr, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return domain.File{}, err
	}
	if duration.Valid {
		f.DurationSec = &duration.Float64
	}
	if f.Warning, err = decodePayload(warning); err != nil {
		return domain.File{}, err
	}
	if f.Error, err = decodePayload(fileErr); err != nil {
		return domain.File{}, err
	}
	return f, nil
}

func scanArtifact(s scanner) (domain.Artifact, error) {
	var (
		a      domain.Artifact
		fileID sql.NullString
	)
	if err := s.Scan(&a.ID, &a.JobID, &fileID, &a.Format, &a.Variant, &a.Name, &a.MimeType, &a.Kind,
		&a.StoragePath, &a.SizeBytes, &a.CreatedAt); err != nil {
		return domain.Artifact{}, err
	}
	a.FileID = fileID.String
	return a, nil
}

func collectPaths(ctx context.Context, tx *sql.Tx, query string, arg any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// isUUID guards UUID columns: postgres rejects malformed ids with an error
// instead of matching no rows.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound(kind, id)
	}
	return nil
}

// jsonOrNull encodes v as JSON text, mapping nil pointers to SQL NULL.
// lib/pq sends []byte as bytea, so JSONB values travel as strings.
func jsonOrNull[T any](v *T) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}

func decodeJSON(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func decodePayload(data []byte) (*domain.Payload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p domain.Payload
	if err := decodeJSON(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
