package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/wadispatch/internal/config"
	"github.com/jmehdipour/wadispatch/internal/dispatcher"
	"github.com/jmehdipour/wadispatch/internal/model"
	"github.com/jmehdipour/wadispatch/internal/options"
	"github.com/jmehdipour/wadispatch/internal/repository"
	"github.com/jmehdipour/wadispatch/internal/service/task"
)

type users map[string]*model.User

func (u users) GetByAPIKey(_ context.Context, key string) (*model.User, error) {
	return u[key], nil
}

var testUsers = users{
	"admin-key": {ID: 1, Name: "root", Role: "admin", Status: "active"},
	"staff-key": {ID: 2, Name: "ops", Role: "staff", Status: "active"},
}

func i64(v int64) *int64 { return &v }

// fakeTasks is an in-memory TaskService.
type fakeTasks struct {
	tasks     map[string]*model.MessageTask
	created   []task.CreateRequest
	batches   []task.BatchRequest
	filter    repository.TaskFilter
	statsUser *int64
	createErr error
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{tasks: map[string]*model.MessageTask{
		"t-staff": {ID: "t-staff", Recipient: "+250788123456", Status: model.StatusFailed, CreatedBy: i64(2),
			Options: []byte(`{"type":"text","body":"hi","preview_url":false}`)},
		"t-admin": {ID: "t-admin", Recipient: "+250788000000", Status: model.StatusProcessing, CreatedBy: i64(1)},
	}}
}

func (f *fakeTasks) Create(_ context.Context, req task.CreateRequest) (*model.MessageTask, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &model.MessageTask{ID: "new", Recipient: req.Recipient, Status: model.StatusQueued, CreatedBy: req.CreatedBy}, nil
}

func (f *fakeTasks) Batch(_ context.Context, req task.BatchRequest) (task.BatchResult, error) {
	f.batches = append(f.batches, req)
	return task.BatchResult{Created: len(req.Recipients), Enqueued: len(req.Recipients)}, nil
}

func (f *fakeTasks) Get(_ context.Context, id string) (*model.MessageTask, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (f *fakeTasks) List(_ context.Context, flt repository.TaskFilter) ([]model.MessageTask, error) {
	f.filter = flt
	return []model.MessageTask{*f.tasks["t-staff"]}, nil
}

func (f *fakeTasks) Cancel(_ context.Context, id string) (*model.MessageTask, error) {
	if f.tasks[id].Status == model.StatusProcessing {
		return nil, task.ErrNotCancellable
	}
	f.tasks[id].Status = model.StatusCancelled
	return f.tasks[id], nil
}

func (f *fakeTasks) Retry(_ context.Context, id string) (*model.MessageTask, error) {
	f.tasks[id].Status = model.StatusQueued
	return f.tasks[id], nil
}

func (f *fakeTasks) Delete(_ context.Context, id string) error {
	delete(f.tasks, id)
	return nil
}

func (f *fakeTasks) Logs(_ context.Context, id string, _ int) ([]model.ExecutionLog, error) {
	return []model.ExecutionLog{{TaskID: id, Status: model.StatusFailed}}, nil
}

func (f *fakeTasks) Statistics(_ context.Context, createdBy *int64) (task.Statistics, error) {
	f.statsUser = createdBy
	return task.Statistics{Total: 4, SuccessRate: 75}, nil
}

type fakeUploader struct {
	name, mime string
	size       int
}

func (u *fakeUploader) UploadMedia(_ context.Context, filename, mimeType string, r io.Reader) dispatcher.UploadResult {
	b, _ := io.ReadAll(r)
	u.name, u.mime, u.size = filename, mimeType, len(b)
	return dispatcher.UploadResult{Success: true, MediaID: "media-1"}
}

type fakeWebhook struct {
	secret []byte
	read   []string
}

func (w *fakeWebhook) VerifySignature(raw []byte, header string) bool {
	return dispatcher.VerifySignature(w.secret, raw, header)
}

func (w *fakeWebhook) MarkAsRead(_ context.Context, id string) dispatcher.Result {
	w.read = append(w.read, id)
	return dispatcher.Result{Success: true, MessageID: id}
}

type harness struct {
	h     http.Handler
	tasks *fakeTasks
	up    *fakeUploader
	wh    *fakeWebhook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	var cfg config.Config
	cfg.Media.MaxUploadSize = "1KB"
	cfg.WhatsApp.VerifyToken = "verify-me"

	hs := &harness{tasks: newFakeTasks(), up: &fakeUploader{}, wh: &fakeWebhook{secret: []byte("s3cret")}}
	srv, err := NewServer(cfg, Deps{Tasks: hs.tasks, Users: testUsers, Media: hs.up, Webhook: hs.wh})
	require.NoError(t, err)
	hs.h = srv.Handler()
	return hs
}

func (hs *harness) do(method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateTask(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(http.MethodPost, "/v1/tasks", "staff-key", `{
		"recipient": " +250788123456 ",
		"message_body": "hello",
		"type": "template",
		"priority": 1,
		"options": {"template_name": "welcome", "body_params": ["Ana"]}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, hs.tasks.created, 1)
	req := hs.tasks.created[0]
	assert.Equal(t, "+250788123456", req.Recipient)
	assert.Equal(t, "template", req.Kind)
	assert.Equal(t, "welcome", req.Fields.TemplateName)
	assert.Equal(t, 1, *req.Priority)
	assert.Equal(t, int64(2), *req.CreatedBy)

	assert.Equal(t, "new", decode(t, rec)["id"])
}

func TestCreateTaskRejectsBadInput(t *testing.T) {
	hs := newHarness(t)

	cases := map[string]string{
		"missing body":   `{"recipient":"+250788123456"}`,
		"priority range": `{"recipient":"+250788123456","message_body":"x","priority":12}`,
		"bad channel":    `{"recipient":"+250788123456","message_body":"x","channel":"fax"}`,
		"unknown type":   `{"recipient":"+250788123456","message_body":"x","type":"sticker"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := hs.do(http.MethodPost, "/v1/tasks", "staff-key", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_error", decode(t, rec)["error"])
		})
	}
	assert.Empty(t, hs.tasks.created)
}

func TestCreateTaskMapsServiceErrors(t *testing.T) {
	hs := newHarness(t)

	hs.tasks.createErr = options.NewValidationError("template_name", "is required")
	rec := hs.do(http.MethodPost, "/v1/tasks", "staff-key", `{"recipient":"+250788123456","message_body":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "template_name", decode(t, rec)["field"])

	hs.tasks.createErr = io.ErrUnexpectedEOF
	rec = hs.do(http.MethodPost, "/v1/tasks", "staff-key", `{"recipient":"+250788123456","message_body":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBatch(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(http.MethodPost, "/v1/tasks/batch", "staff-key",
		`{"recipients":["+250788123456","+250788123457"],"message_body":"promo"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, hs.tasks.batches, 1)
	assert.Len(t, hs.tasks.batches[0].Recipients, 2)

	rec = hs.do(http.MethodPost, "/v1/tasks/batch", "staff-key", `{"recipients":[],"message_body":"promo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	hs := newHarness(t)
	assert.Equal(t, http.StatusUnauthorized, hs.do(http.MethodGet, "/v1/tasks", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, hs.do(http.MethodGet, "/v1/tasks", "wrong", "").Code)
}

func TestGetTaskOwnership(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(http.MethodGet, "/v1/tasks/t-staff", "staff-key", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "text", body["options"].(map[string]any)["type"])

	// staff cannot see someone else's task, admin can
	assert.Equal(t, http.StatusNotFound, hs.do(http.MethodGet, "/v1/tasks/t-admin", "staff-key", "").Code)
	assert.Equal(t, http.StatusOK, hs.do(http.MethodGet, "/v1/tasks/t-staff", "admin-key", "").Code)
	assert.Equal(t, http.StatusNotFound, hs.do(http.MethodGet, "/v1/tasks/missing", "admin-key", "").Code)
}

func TestListScopesNonAdmins(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(http.MethodGet, "/v1/tasks?status=FAILED&limit=10&offset=5", "staff-key", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusFailed, hs.tasks.filter.Status)
	assert.Equal(t, 10, hs.tasks.filter.Limit)
	assert.Equal(t, 5, hs.tasks.filter.Offset)
	require.NotNil(t, hs.tasks.filter.CreatedBy)
	assert.Equal(t, int64(2), *hs.tasks.filter.CreatedBy)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	hs.do(http.MethodGet, "/v1/tasks", "admin-key", "")
	assert.Nil(t, hs.tasks.filter.CreatedBy)
	assert.Equal(t, 50, hs.tasks.filter.Limit)
}

func TestCancelRetryDelete(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(http.MethodPost, "/v1/tasks/t-admin/cancel", "admin-key", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = hs.do(http.MethodPost, "/v1/tasks/t-staff/retry", "staff-key", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queued", decode(t, rec)["status"])

	rec = hs.do(http.MethodPost, "/v1/tasks/t-staff/cancel", "staff-key", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode(t, rec)["status"])

	rec = hs.do(http.MethodDelete, "/v1/tasks/t-staff", "staff-key", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, hs.do(http.MethodGet, "/v1/tasks/t-staff", "staff-key", "").Code)
}

func TestLogsAndStatistics(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(http.MethodGet, "/v1/tasks/t-staff/logs", "staff-key", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = hs.do(http.MethodGet, "/v1/tasks/statistics", "staff-key", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 75, decode(t, rec)["success_rate"])
	require.NotNil(t, hs.tasks.statsUser)
	assert.Equal(t, int64(2), *hs.tasks.statsUser)

	hs.do(http.MethodGet, "/v1/tasks/statistics", "admin-key", "")
	assert.Nil(t, hs.tasks.statsUser)
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestMediaUpload(t *testing.T) {
	hs := newHarness(t)

	body, ct := multipartBody(t, "logo.png", []byte("\x89PNG\r\n\x1a\n0000"))
	req := httptest.NewRequest(http.MethodPost, "/v1/media", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-API-Key", "staff-key")
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "media-1", decode(t, rec)["media_id"])
	assert.Equal(t, "logo.png", hs.up.name)
	assert.Equal(t, 12, hs.up.size)
}

func TestMediaUploadTooLarge(t *testing.T) {
	hs := newHarness(t)

	body, ct := multipartBody(t, "big.bin", bytes.Repeat([]byte("a"), 2048))
	req := httptest.NewRequest(http.MethodPost, "/v1/media", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-API-Key", "staff-key")
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, hs.up.size)
}

func TestWebhookVerify(t *testing.T) {
	hs := newHarness(t)

	rec := hs.do(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	rec = hs.do(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookMarksInboundAsRead(t *testing.T) {
	hs := newHarness(t)

	raw := `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages",
		"value":{"messages":[{"id":"wamid.A","from":"250788123456","type":"text"}],
		"statuses":[{"id":"wamid.B","status":"delivered","recipient_id":"250788123456"}]}}]}]}`

	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(raw))
		req.Header.Set("X-Hub-Signature-256", sig)
		rec := httptest.NewRecorder()
		hs.h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusForbidden, send("sha256=deadbeef").Code)
	assert.Empty(t, hs.wh.read)

	rec := send(sign([]byte("s3cret"), []byte(raw)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"wamid.A"}, hs.wh.read)
}

func TestHealthz(t *testing.T) {
	hs := newHarness(t)
	rec := hs.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServerRejectsBadUploadSize(t *testing.T) {
	var cfg config.Config
	cfg.Media.MaxUploadSize = "lots"
	_, err := NewServer(cfg, Deps{Tasks: newFakeTasks(), Users: testUsers})
	assert.Error(t, err)
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type fakeReports struct{ filter repository.LogFilter }

func (r *fakeReports) List(_ context.Context, f repository.LogFilter) ([]model.ExecutionLog, error) {
	r.filter = f
	return []model.ExecutionLog{{TaskID: "t-staff", Status: model.StatusCompleted}}, nil
}

func TestExecutionReports(t *testing.T) {
	var cfg config.Config
	cfg.Media.MaxUploadSize = "1MB"
	reports := &fakeReports{}
	srv, err := NewServer(cfg, Deps{Tasks: newFakeTasks(), Users: testUsers, Reports: reports})
	require.NoError(t, err)
	hs := &harness{h: srv.Handler()}

	assert.Equal(t, http.StatusForbidden, hs.do(http.MethodGet, "/v1/reports/executions", "staff-key", "").Code)

	rec := hs.do(http.MethodGet, "/v1/reports/executions?status=completed&from=2026-01-01T00:00:00Z&limit=5", "admin-key", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode(t, rec)["count"])
	assert.Equal(t, model.StatusCompleted, reports.filter.Status)
	assert.Equal(t, 5, reports.filter.Limit)
	assert.Equal(t, 2026, reports.filter.From.Year())

	rec = hs.do(http.MethodGet, "/v1/reports/executions?from=yesterday", "admin-key", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecutionReportsWithoutAnalytics(t *testing.T) {
	hs := newHarness(t)
	assert.Equal(t, http.StatusServiceUnavailable, hs.do(http.MethodGet, "/v1/reports/executions", "admin-key", "").Code)
}
