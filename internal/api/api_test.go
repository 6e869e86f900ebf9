package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"transcribe-multilingual/internal/blob"
	"transcribe-multilingual/internal/config"
	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/jobs"
	"transcribe-multilingual/internal/secrets"
	"transcribe-multilingual/internal/store"
	"transcribe-multilingual/internal/transcribe"
	"transcribe-multilingual/internal/translate"
)

type stubAdapter struct{}

func (stubAdapter) Name() string { return "stub" }

func (stubAdapter) Transcribe(_ context.Context, req transcribe.Request) (domain.TranscriptDocument, error) {
	return domain.TranscriptDocument{
		Provider:         "stub",
		Model:            req.Model,
		DetectedLanguage: "en",
		Segments:         []domain.Segment{{ID: 1, Start: 0, End: 2, Text: "Hello world."}},
	}, nil
}

type stubFactory struct{}

func (stubFactory) Adapter(context.Context, string) (transcribe.Adapter, error) {
	return stubAdapter{}, nil
}

func (stubFactory) Translators(context.Context) map[string]translate.Translator { return nil }

type testServer struct {
	handler http.Handler
	svc     *jobs.Service
	blobs   *blob.Local
	folder  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithStore(t, store.NewMemory())
}

func newTestServerWithStore(t *testing.T, records store.Store) *testServer {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blob.NewLocal(filepath.Join(dir, "storage"))
	if err != nil {
		t.Fatalf("new blob store: %v", err)
	}
	folder := filepath.Join(dir, "media")
	if err := os.MkdirAll(folder, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	settingsStore := config.NewJSONStore(filepath.Join(dir, "settings.json"))
	defaults := config.Defaults()
	defaults.LocalFolderAllowlist = []string{folder}
	resolver := &config.Resolver{Overrides: settingsStore, Defaults: defaults}

	key, err := secrets.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	raw, err := secrets.ParseKey(key)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	box, err := secrets.NewBox(raw)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	svc := jobs.NewService(jobs.Deps{
		Store:            records,
		Blobs:            blobs,
		Adapters:         stubFactory{},
		Settings:         resolver,
		Mode:             transcribe.ModeLocal,
		FolderExtensions: []string{".wav"},
	})
	h := &Handler{
		Jobs:           svc,
		Uploads:        blobs,
		Settings:       resolver,
		Keys:           &secrets.Keyring{Box: box, Store: settingsStore},
		Models:         &transcribe.ModelDownloader{Dir: filepath.Join(dir, "models")},
		MaxUploadBytes: 1 << 20,
	}
	return &testServer{handler: NewRouter(h, nil), svc: svc, blobs: blobs, folder: folder}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createFolderJob(t *testing.T) domain.JobSnapshot {
	t.Helper()
	if err := os.WriteFile(filepath.Join(s.folder, "clip.wav"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	body := `{"folder_path":"` + s.folder + `","provider":"whisper-local","model":"small","formats":["srt"]}`
	rec := s.do(t, http.MethodPost, "/api/jobs/from-folder", strings.NewReader(body), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var snap domain.JobSnapshot
	decode(t, rec, &snap)
	return snap
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// TestHealth checks the liveness route.
func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// TestCapabilitiesListsLocalProviders checks the capability listing for local mode.
func TestCapabilitiesListsLocalProviders(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/capabilities", nil, "")
	var body struct {
		AppMode   string                          `json:"app_mode"`
		Providers []transcribe.ProviderCapability `json:"providers"`
	}
	decode(t, rec, &body)
	if body.AppMode != transcribe.ModeLocal {
		t.Fatalf("app_mode = %q, want local", body.AppMode)
	}
	if len(body.Providers) != 4 || body.Providers[0].Provider != transcribe.ProviderWhisperLocal {
		t.Fatalf("providers = %+v", body.Providers)
	}
}

// TestModelsListsCatalog lists whisper-local models in local mode.
func TestModelsListsCatalog(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/models", nil, "")
	var body struct {
		Models []transcribe.WhisperModel `json:"models"`
	}
	decode(t, rec, &body)
	if len(body.Models) != 3 || body.Models[0].Downloaded {
		t.Fatalf("models = %+v", body.Models)
	}
}

// TestUploadJobCompletesSynchronously submits a multipart upload and reads back the job.
func TestUploadJobCompletesSynchronously(t *testing.T) {
	s := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{
		"provider": "whisper-local",
		"model":    "small",
		"formats":  "srt,txt",
	}, map[string]string{"clip.wav": "audio"})

	rec := s.do(t, http.MethodPost, "/api/jobs", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var snap domain.JobSnapshot
	decode(t, rec, &snap)
	if snap.Status != domain.StatusCompleted {
		t.Fatalf("job status = %q, want completed", snap.Status)
	}
	if snap.SourceLanguage != "auto" {
		t.Fatalf("source language = %q, want auto", snap.SourceLanguage)
	}
	if len(snap.Files) != 1 || snap.Files[0].InputSource != domain.InputSourceUpload {
		t.Fatalf("files = %+v", snap.Files)
	}

	rec = s.do(t, http.MethodGet, "/api/jobs/"+snap.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
}

// TestUploadJobValidationRemovesUploads rejects a bad request and leaves no upload behind.
func TestUploadJobValidationRemovesUploads(t *testing.T) {
	s := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{
		"provider": "whisper-local",
		"model":    "huge",
	}, map[string]string{"clip.wav": "audio"})

	rec := s.do(t, http.MethodPost, "/api/jobs", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}

	var files []string
	_ = filepath.WalkDir(filepath.Join(s.blobs.Root, "uploads"), func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if len(files) != 0 {
		t.Fatalf("uploads left behind: %v", files)
	}
}

// failingStore fails job creation or job updates on demand.
type failingStore struct {
	*store.Memory
	failCreate bool
	failUpdate bool
}

func (s *failingStore) CreateJob(ctx context.Context, job domain.Job, files []domain.File) error {
	if s.failCreate {
		return errors.New("database unavailable")
	}
	return s.Memory.CreateJob(ctx, job, files)
}

func (s *failingStore) UpdateJob(ctx context.Context, job domain.Job, expected domain.Status) error {
	if s.failUpdate {
		return errors.New("database unavailable")
	}
	return s.Memory.UpdateJob(ctx, job, expected)
}

func (s *testServer) uploadedFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	_ = filepath.WalkDir(filepath.Join(s.blobs.Root, "uploads"), func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// TestUploadJobStoreFailures keeps uploads only when the job was persisted.
func TestUploadJobStoreFailures(t *testing.T) {
	tests := []struct {
		name     string
		records  *failingStore
		wantKept int
		wantJobs int
	}{
		{name: "create fails", records: &failingStore{Memory: store.NewMemory(), failCreate: true}, wantKept: 0, wantJobs: 0},
		{name: "processing fails", records: &failingStore{Memory: store.NewMemory(), failUpdate: true}, wantKept: 1, wantJobs: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServerWithStore(t, tt.records)
			body, ct := multipartBody(t, map[string]string{
				"provider": "whisper-local",
				"model":    "small",
			}, map[string]string{"clip.wav": "audio"})

			rec := s.do(t, http.MethodPost, "/api/jobs", body, ct)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500: %s", rec.Code, rec.Body.String())
			}
			if got := len(s.uploadedFiles(t)); got != tt.wantKept {
				t.Fatalf("uploads kept = %d, want %d", got, tt.wantKept)
			}
			stored, err := tt.records.ListJobs(context.Background(), 0)
			if err != nil || len(stored) != tt.wantJobs {
				t.Fatalf("stored jobs = %d, %v, want %d", len(stored), err, tt.wantJobs)
			}
		})
	}
}

// TestUploadJobRequiresFiles rejects a form without files.
func TestUploadJobRequiresFiles(t *testing.T) {
	s := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{"provider": "whisper-local", "model": "small"}, nil)
	rec := s.do(t, http.MethodPost, "/api/jobs", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// TestUploadJobTooLarge maps the body limit to 413.
func TestUploadJobTooLarge(t *testing.T) {
	s := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{"provider": "whisper-local", "model": "small"},
		map[string]string{"clip.wav": strings.Repeat("a", 2<<20)})
	rec := s.do(t, http.MethodPost, "/api/jobs", body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413: %s", rec.Code, rec.Body.String())
	}
}

// TestFolderJobOutsideAllowlist maps the allow-list rejection to 403.
func TestFolderJobOutsideAllowlist(t *testing.T) {
	s := newTestServer(t)
	body := `{"folder_path":"` + t.TempDir() + `","provider":"whisper-local","model":"small"}`
	rec := s.do(t, http.MethodPost, "/api/jobs/from-folder", strings.NewReader(body), "application/json")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}
}

// TestArtifactAndBundleDownloads fetches a rendered artifact and the job bundle.
func TestArtifactAndBundleDownloads(t *testing.T) {
	s := newTestServer(t)
	snap := s.createFolderJob(t)
	if snap.Options.LocalFolder != s.folder {
		t.Fatalf("local folder = %q, want %q", snap.Options.LocalFolder, s.folder)
	}

	rec := s.do(t, http.MethodGet, "/api/jobs/"+snap.ID+"/artifacts", nil, "")
	var listed struct {
		Artifacts []domain.Artifact `json:"artifacts"`
	}
	decode(t, rec, &listed)
	if len(listed.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2 (srt + bundle)", len(listed.Artifacts))
	}

	var srt domain.Artifact
	for _, a := range listed.Artifacts {
		if a.Format == domain.FormatSRT {
			srt = a
		}
	}
	rec = s.do(t, http.MethodGet, "/api/jobs/"+snap.ID+"/artifacts/"+srt.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("artifact status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Hello world.") {
		t.Fatalf("artifact body = %q", rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/jobs/"+snap.ID+"/bundle.zip", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("bundle status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Fatalf("bundle content type = %q", got)
	}

	stored, err := s.svc.Artifact(context.Background(), snap.ID, srt.ID)
	if err != nil {
		t.Fatalf("artifact lookup: %v", err)
	}
	if err := os.Remove(stored.StoragePath); err != nil {
		t.Fatalf("remove artifact file: %v", err)
	}
	rec = s.do(t, http.MethodGet, "/api/jobs/"+snap.ID+"/artifacts/"+srt.ID, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing artifact status = %d, want 404", rec.Code)
	}
}

// TestJobNotFound maps unknown ids to 404.
func TestJobNotFound(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/artifacts", "/api/jobs/nope/bundle.zip", "/api/jobs/nope/events"} {
		if rec := s.do(t, http.MethodGet, path, nil, ""); rec.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d, want 404", path, rec.Code)
		}
	}
}

// TestCancelFinishedJobConflicts maps cancelling a completed job to 409.
func TestCancelFinishedJobConflicts(t *testing.T) {
	s := newTestServer(t)
	snap := s.createFolderJob(t)
	rec := s.do(t, http.MethodPost, "/api/jobs/"+snap.ID+"/cancel", nil, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

// TestDeleteJob removes the job and its rendered files but not the folder input.
func TestDeleteJob(t *testing.T) {
	s := newTestServer(t)
	snap := s.createFolderJob(t)

	rec := s.do(t, http.MethodDelete, "/api/jobs/"+snap.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec = s.do(t, http.MethodGet, "/api/jobs/"+snap.ID, nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", rec.Code)
	}
	if _, err := os.Stat(filepath.Join(s.folder, "clip.wav")); err != nil {
		t.Fatalf("folder input removed: %v", err)
	}
}

// TestPollEventsSince returns only events after the cursor.
func TestPollEventsSince(t *testing.T) {
	s := newTestServer(t)
	snap := s.createFolderJob(t)

	rec := s.do(t, http.MethodGet, "/api/jobs/"+snap.ID+"/events", nil, "")
	var all struct {
		Events    []jobs.Event `json:"events"`
		NextSince int64        `json:"next_since"`
	}
	decode(t, rec, &all)
	if len(all.Events) < 2 {
		t.Fatalf("events = %d, want at least 2", len(all.Events))
	}

	cursor := all.Events[len(all.Events)-2].Seq
	rec = s.do(t, http.MethodGet, "/api/jobs/"+snap.ID+"/events?since="+strconv.FormatInt(cursor, 10), nil, "")
	var tail struct {
		Events    []jobs.Event `json:"events"`
		NextSince int64        `json:"next_since"`
	}
	decode(t, rec, &tail)
	if len(tail.Events) != 1 || tail.NextSince != all.NextSince {
		t.Fatalf("tail = %+v, want one event ending at %d", tail, all.NextSince)
	}

	if rec = s.do(t, http.MethodGet, "/api/jobs/"+snap.ID+"/events?since=x", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since status = %d, want 400", rec.Code)
	}
}

// TestStreamEventsClosesAfterTerminalStatus replays a finished job over WebSocket.
func TestStreamEventsClosesAfterTerminalStatus(t *testing.T) {
	s := newTestServer(t)
	snap := s.createFolderJob(t)

	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/" + snap.ID + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var last jobs.Event
	count := 0
	for {
		var e jobs.Event
		if err := conn.ReadJSON(&e); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			break
		}
		last = e
		count++
	}
	if count == 0 {
		t.Fatal("no events streamed")
	}
	if last.Type != jobs.EventTypeStatus || last.Status != domain.StatusCompleted || last.FileID != "" {
		t.Fatalf("last event = %+v, want job completed", last)
	}
}

// TestAppSettingsPartialUpdate merges a partial PUT with the effective settings.
func TestAppSettingsPartialUpdate(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPut, "/api/settings/app", strings.NewReader(`{"retention_days":3}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got domain.AppSettings
	decode(t, rec, &got)
	if got.RetentionDays != 3 || got.SyncSizeThresholdMB != 20 {
		t.Fatalf("settings = %+v", got)
	}
	if len(got.LocalFolderAllowlist) != 1 || got.LocalFolderAllowlist[0] != s.folder {
		t.Fatalf("allowlist = %v, want unchanged", got.LocalFolderAllowlist)
	}

	rec = s.do(t, http.MethodPut, "/api/settings/app", strings.NewReader(`{"retention_days":0}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status = %d, want 400", rec.Code)
	}
}

// TestAPIKeys stores, lists and deletes a provider key without echoing it.
func TestAPIKeys(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPut, "/api/settings/keys/openai", strings.NewReader(`{"api_key":"sk-test"}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/settings/keys", nil, "")
	if strings.Contains(rec.Body.String(), "sk-test") {
		t.Fatal("key listing leaks the secret")
	}
	var listed struct {
		Keys []keyStatus `json:"keys"`
	}
	decode(t, rec, &listed)
	configured := map[string]bool{}
	for _, k := range listed.Keys {
		configured[k.Provider] = k.Configured
	}
	if !configured["openai"] || configured["deepgram"] {
		t.Fatalf("configured = %v", configured)
	}

	if rec = s.do(t, http.MethodDelete, "/api/settings/keys/openai", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}
	if rec = s.do(t, http.MethodPut, "/api/settings/keys/whisper-local", strings.NewReader(`{"api_key":"x"}`), "application/json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("keyless provider status = %d, want 400", rec.Code)
	}
	if rec = s.do(t, http.MethodPut, "/api/settings/keys/openai", strings.NewReader(`{"api_key":" "}`), "application/json"); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty key status = %d, want 400", rec.Code)
	}
}
