package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anondrop/file-service/internal/models"
	"github.com/anondrop/file-service/internal/services"
	"github.com/anondrop/file-service/pkg/apperrors"
)

// memStore is a minimal in-memory FileStore for handler tests. The
// exclusive download emulates the non-blocking row lock.
type memStore struct {
	mu        sync.Mutex
	files     map[string]models.FileRecord
	downloads map[string][]models.DownloadEvent
	reports   []models.Report
	locked    map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		files:     make(map[string]models.FileRecord),
		downloads: make(map[string][]models.DownloadEvent),
		locked:    make(map[string]bool),
	}
}

func (s *memStore) CreateFile(ctx context.Context, rec models.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[rec.KeyFile]; ok {
		return apperrors.Conflict(services.MsgKeyInUse, nil)
	}
	s.files[rec.KeyFile] = rec
	return nil
}

func (s *memStore) GetFile(ctx context.Context, keyFile string) (models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[keyFile]
	if !ok {
		return models.FileRecord{}, apperrors.NotFound(services.MsgFileNotFound, nil)
	}
	return rec, nil
}

func (s *memStore) HasDownloads(ctx context.Context, fileID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.downloads[fileID]) > 0, nil
}

func (s *memStore) LogDownload(ctx context.Context, ev models.DownloadEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads[ev.FileID] = append(s.downloads[ev.FileID], ev)
	return nil
}

func (s *memStore) BeginExclusiveDownload(ctx context.Context, keyFile string) (services.ExclusiveDownload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[keyFile]
	if !ok {
		return nil, apperrors.NotFound(services.MsgFileNotFound, nil)
	}
	if s.locked[keyFile] {
		return nil, apperrors.Conflict(services.MsgDownloadBusy, nil)
	}
	s.locked[keyFile] = true
	return &memExclusive{store: s, rec: rec}, nil
}

func (s *memStore) CreateReport(ctx context.Context, rep models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rep)
	return nil
}

type memExclusive struct {
	store    *memStore
	rec      models.FileRecord
	pending  []models.DownloadEvent
	finished bool
}

func (d *memExclusive) File() models.FileRecord { return d.rec }

func (d *memExclusive) Downloaded(ctx context.Context) (bool, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	return len(d.store.downloads[d.rec.ID]) > 0, nil
}

func (d *memExclusive) LogDownload(ctx context.Context, ev models.DownloadEvent) error {
	d.pending = append(d.pending, ev)
	return nil
}

func (d *memExclusive) Commit() error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	for _, ev := range d.pending {
		d.store.downloads[ev.FileID] = append(d.store.downloads[ev.FileID], ev)
	}
	d.finished = true
	d.store.locked[d.rec.KeyFile] = false
	return nil
}

func (d *memExclusive) Rollback() error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if !d.finished {
		d.finished = true
		d.store.locked[d.rec.KeyFile] = false
	}
	return nil
}

type memSigner struct{}

func (memSigner) PresignedDownload(ctx context.Context, keyFile, fileName string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://storage.example/files/%s?sig=get", keyFile), nil
}

func (memSigner) PresignedUpload(ctx context.Context, keyFile, contentType string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://storage.example/files/%s?sig=put", keyFile), nil
}

func newTestRouter(store *memStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	lifecycle := services.NewLifecycle(store, memSigner{}, nil, "https://share.example")

	h := &FileHandler{Lifecycle: lifecycle, Signer: memSigner{}, MaxFileSize: 10 << 20}

	r := gin.New()
	api := r.Group("/api")
	api.GET("/health", h.HealthCheck)
	api.GET("/file/:keyFile", h.GetFileInfo)
	api.GET("/download/:keyFile", h.DownloadFile)
	api.POST("/upload", h.RegisterFile)
	api.POST("/upload/presign", h.PresignUpload)
	api.POST("/report", h.ReportFile)
	return r
}

func seedFile(t *testing.T, store *memStore, rec models.FileRecord) models.FileRecord {
	t.Helper()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	require.NoError(t, store.CreateFile(context.Background(), rec))
	return rec
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	r := newTestRouter(newMemStore())
	w := doJSON(r, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGetFileInfoNotFound(t *testing.T) {
	r := newTestRouter(newMemStore())
	w := doJSON(r, http.MethodGet, "/api/file/missing1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Arquivo não encontrado"}`, w.Body.String())
}

func TestGetFileInfoOK(t *testing.T) {
	store := newMemStore()
	seedFile(t, store, models.FileRecord{
		KeyFile: "info0001", FileName: "dados.csv", MimeType: "text/csv", Size: 512,
		OneTimeDownload: true,
	})
	r := newTestRouter(store)

	w := doJSON(r, http.MethodGet, "/api/file/info0001", "")
	require.Equal(t, http.StatusOK, w.Code)

	var info models.FileInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "dados.csv", info.FileName)
	assert.Equal(t, int64(512), info.Size)
	assert.True(t, info.OneTimeDownload)
	assert.False(t, info.IsOnceDownloaded)
}

func TestDownloadReturnsSignedURL(t *testing.T) {
	store := newMemStore()
	seedFile(t, store, models.FileRecord{
		KeyFile: "dl000001", FileName: "a.txt", MimeType: "text/plain", Size: 1,
	})
	r := newTestRouter(store)

	w := doJSON(r, http.MethodGet, "/api/download/dl000001", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["url"], "dl000001")
}

func TestDownloadStatusMapping(t *testing.T) {
	store := newMemStore()
	seedFile(t, store, models.FileRecord{
		KeyFile: "map-dis1", FileName: "a", MimeType: "t", Size: 1, IsDisabled: true,
	})
	past := time.Now().Add(-time.Hour)
	seedFile(t, store, models.FileRecord{
		KeyFile: "map-exp1", FileName: "a", MimeType: "t", Size: 1, ExpirationDate: &past,
	})
	r := newTestRouter(store)

	cases := []struct {
		path string
		code int
	}{
		{"/api/download/missing1", http.StatusNotFound},
		{"/api/download/map-dis1", http.StatusForbidden},
		{"/api/download/map-exp1", http.StatusGone},
	}
	for _, tc := range cases {
		w := doJSON(r, http.MethodGet, tc.path, "")
		assert.Equal(t, tc.code, w.Code, tc.path)
	}
}

func TestOneTimeDownloadedTwiceOver403(t *testing.T) {
	store := newMemStore()
	seedFile(t, store, models.FileRecord{
		KeyFile: "ab12cd34", FileName: "a.txt", MimeType: "text/plain", Size: 1,
		OneTimeDownload: true,
	})
	r := newTestRouter(store)

	w := doJSON(r, http.MethodGet, "/api/download/ab12cd34", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/api/download/ab12cd34", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Arquivo só pode ser baixado uma vez"}`, w.Body.String())

	// The info endpoint now reflects the consumed state.
	w = doJSON(r, http.MethodGet, "/api/file/ab12cd34", "")
	var info models.FileInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.True(t, info.IsOnceDownloaded)
}

func TestRegisterFileCreated(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(store)

	body := `{"keyFile":"up000001","fileName":"foto.png","mimeType":"image/png","size":4096,"oneTimeDownload":true,"expirationDate":"2030-01-02T15:04:05Z"}`
	w := doJSON(r, http.MethodPost, "/api/upload", body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"link":"https://share.example/d/up000001"}`, w.Body.String())

	rec, err := store.GetFile(context.Background(), "up000001")
	require.NoError(t, err)
	assert.True(t, rec.OneTimeDownload)
	require.NotNil(t, rec.ExpirationDate)
}

func TestRegisterFileValidation(t *testing.T) {
	r := newTestRouter(newMemStore())

	for _, body := range []string{
		`{}`,
		`{"keyFile":"k1"}`,
		`{"keyFile":"k1","fileName":"a","mimeType":"t","size":0}`,
		`not json`,
	} {
		w := doJSON(r, http.MethodPost, "/api/upload", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestRegisterFileDuplicateKey(t *testing.T) {
	r := newTestRouter(newMemStore())

	body := `{"keyFile":"dup00001","fileName":"a","mimeType":"t","size":1}`
	w := doJSON(r, http.MethodPost, "/api/upload", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodPost, "/api/upload", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPresignUpload(t *testing.T) {
	r := newTestRouter(newMemStore())

	w := doJSON(r, http.MethodPost, "/api/upload/presign", `{"keyFile":"ps000001","contentType":"image/png"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		KeyFile      string `json:"keyFile"`
		PresignedURL string `json:"presignedUrl"`
		MaxFileSize  int64  `json:"maxFileSize"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ps000001", body.KeyFile)
	assert.Contains(t, body.PresignedURL, "ps000001")
	assert.Equal(t, int64(10<<20), body.MaxFileSize)
}

func TestRegisterFileOverSizeLimit(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(store)

	body := fmt.Sprintf(`{"keyFile":"big00001","fileName":"iso.img","mimeType":"application/octet-stream","size":%d}`, int64(10<<20)+1)
	w := doJSON(r, http.MethodPost, "/api/upload", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Arquivo excede o tamanho máximo permitido"}`, w.Body.String())

	_, err := store.GetFile(context.Background(), "big00001")
	assert.Error(t, err)

	// Exactly at the limit is still accepted.
	body = fmt.Sprintf(`{"keyFile":"big00002","fileName":"iso.img","mimeType":"application/octet-stream","size":%d}`, int64(10<<20))
	w = doJSON(r, http.MethodPost, "/api/upload", body)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestKeyFileWithPathSeparatorsRejected(t *testing.T) {
	store := newMemStore()
	r := newTestRouter(store)

	for _, key := range []string{"../../home/x", "a/b", `a\b`, "..", "scan-..evil"} {
		body := fmt.Sprintf(`{"keyFile":%q,"fileName":"a","mimeType":"t","size":1}`, key)
		w := doJSON(r, http.MethodPost, "/api/upload", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, key)

		w = doJSON(r, http.MethodPost, "/api/upload/presign", fmt.Sprintf(`{"keyFile":%q,"contentType":"t"}`, key))
		assert.Equal(t, http.StatusBadRequest, w.Code, key)
	}
	require.Empty(t, store.files)
}

func TestPresignUploadMissingFields(t *testing.T) {
	r := newTestRouter(newMemStore())

	w := doJSON(r, http.MethodPost, "/api/upload/presign", `{"keyFile":"ps000001"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Os campos \"keyFile\" e \"contentType\" são obrigatórios."}`, w.Body.String())
}

func TestReportFile(t *testing.T) {
	store := newMemStore()
	rec := seedFile(t, store, models.FileRecord{
		KeyFile: "rep00001", FileName: "a", MimeType: "t", Size: 1,
	})
	r := newTestRouter(store)

	w := doJSON(r, http.MethodPost, "/api/report", `{"fileKey":"rep00001","reason":"copyright","description":"uso indevido"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var rep models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, rec.ID, rep.FileID)
	assert.Equal(t, "copyright", rep.Reason)
}

func TestReportFileValidation(t *testing.T) {
	r := newTestRouter(newMemStore())

	// Unknown reason value fails the enum.
	w := doJSON(r, http.MethodPost, "/api/report", `{"fileKey":"rep00001","reason":"spam"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Dados inválidos"}`, w.Body.String())

	// Unknown file is a 404.
	w = doJSON(r, http.MethodPost, "/api/report", `{"fileKey":"missing1","reason":"other"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
