package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobnotify/internal/auth"
	"jobnotify/internal/delivery"
	"jobnotify/internal/handler"
	"jobnotify/internal/model"
	"jobnotify/internal/render"
	"jobnotify/internal/service/dispatch"
	"jobnotify/pkg/trace"
)

const (
	cronSecret = "cron-secret"
	jwtSecret  = "jwt-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRunner struct {
	summary  *model.Summary
	err      error
	requests []dispatch.Request
	traceID  string
}

func (s *stubRunner) Run(ctx context.Context, req dispatch.Request) (*model.Summary, error) {
	s.requests = append(s.requests, req)
	s.traceID = trace.FromContext(ctx)
	return s.summary, s.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

type noAdmins struct{}

func (noAdmins) IsAdmin(ctx context.Context, userID string) (bool, error) { return false, nil }

func newTestRouter(runner dispatch.Runner, db Pinger) *gin.Engine {
	gate := auth.NewGate(auth.Config{CronSecret: cronSecret, JWTSecret: jwtSecret}, noAdmins{}, zap.NewNop())
	return NewRouter(handler.NewDispatchHandler(runner, zap.NewNop()), gate, db, zap.NewNop()).Engine
}

func do(t *testing.T, engine *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	var body map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func dispatchRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, nil)
	req.Header.Set("Authorization", "Bearer "+cronSecret)
	return req
}

func TestDispatch_Success(t *testing.T) {
	runner := &stubRunner{summary: &model.Summary{
		Sent:  2,
		Total: 3,
		Results: []model.DeliveryResult{
			{LogID: 1, Status: model.StatusSent, ID: "m1", Recorded: true},
			{LogID: 2, Status: model.StatusFailed, Error: "bounced", Recorded: true},
			{LogID: 3, Status: model.StatusSent, ID: "m3", Recorded: true},
		},
	}}

	w, body := do(t, newTestRouter(runner, nil), dispatchRequest("/notifications/jobs/dispatch?limit=20"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(2), body["sent"])
	assert.Equal(t, float64(3), body["total"])
	results := body["results"].([]any)
	require.Len(t, results, 3)
	assert.Equal(t, "bounced", results[1].(map[string]any)["error"])

	require.Len(t, runner.requests, 1)
	assert.Equal(t, dispatch.Request{Limit: 20, Trigger: dispatch.TriggerHTTP}, runner.requests[0])
}

func TestDispatch_EmptyQueue(t *testing.T) {
	runner := &stubRunner{summary: &model.Summary{}}

	w, _ := do(t, newTestRouter(runner, nil), dispatchRequest("/notifications/jobs/dispatch"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"sent":0,"total":0}`, w.Body.String())
}

func TestDispatch_QueueFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("read notification queue: connection refused")}

	w, body := do(t, newTestRouter(runner, nil), dispatchRequest("/notifications/jobs/dispatch"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "failed to read notification queue"}, body)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestDispatch_InvalidLimit(t *testing.T) {
	runner := &stubRunner{summary: &model.Summary{}}

	w, body := do(t, newTestRouter(runner, nil), dispatchRequest("/notifications/jobs/dispatch?limit=lots"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["ok"])
	assert.Empty(t, runner.requests)
}

func TestDispatch_Unauthorized(t *testing.T) {
	runner := &stubRunner{summary: &model.Summary{}}
	engine := newTestRouter(runner, nil)

	req := httptest.NewRequest(http.MethodPost, "/notifications/jobs/dispatch", nil)
	w, body := do(t, engine, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "unauthorized"}, body)

	req = httptest.NewRequest(http.MethodPost, "/notifications/jobs/dispatch", nil)
	req.Header.Set("X-Cron-Secret", "wrong")
	w, _ = do(t, engine, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Empty(t, runner.requests)
}

func TestDispatch_NonAdminSessionForbidden(t *testing.T) {
	runner := &stubRunner{summary: &model.Summary{}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/notifications/jobs/dispatch", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: token})
	w, body := do(t, newTestRouter(runner, nil), req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", body["error"])
	assert.Empty(t, runner.requests)
}

func TestDispatch_PropagatesTraceID(t *testing.T) {
	runner := &stubRunner{summary: &model.Summary{}}
	req := dispatchRequest("/notifications/jobs/dispatch")
	req.Header.Set(trace.HeaderName, "trace-123")

	w, _ := do(t, newTestRouter(runner, nil), req)
	assert.Equal(t, "trace-123", w.Header().Get(trace.HeaderName))
	assert.Equal(t, "trace-123", runner.traceID)
}

type oneRowStore struct {
	marks []model.Status
}

func (s *oneRowStore) FetchQueue(ctx context.Context, limit int) ([]model.QueueRow, error) {
	return []model.QueueRow{{LogID: 9, RecipientEmail: "a@x.com", JobID: "j9", JobTitle: "Tiling"}}, nil
}

func (s *oneRowStore) MarkStatus(ctx context.Context, logID int64, status model.Status, messageID string) error {
	s.marks = append(s.marks, status)
	return nil
}

type brokenSender struct{}

func (brokenSender) Send(ctx context.Context, msg delivery.Message) (delivery.Outcome, error) {
	return delivery.Outcome{}, errors.New("dial tcp 10.0.0.1:443: i/o timeout")
}

func TestDispatch_NetworkErrorStillReturns200(t *testing.T) {
	store := &oneRowStore{}
	d := dispatch.NewDispatcher(store, render.NewRenderer("https://example.com", ""), brokenSender{}, dispatch.Config{}, zap.NewNop())

	w, body := do(t, newTestRouter(d, nil), dispatchRequest("/notifications/jobs/dispatch"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(0), body["sent"])
	assert.Equal(t, float64(1), body["total"])

	result := body["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "failed", result["status"])
	assert.Equal(t, "dial tcp 10.0.0.1:443: i/o timeout", result["error"])
	assert.Equal(t, []model.Status{model.StatusFailed}, store.marks)
}

func TestHealthAndReadiness(t *testing.T) {
	engine := newTestRouter(&stubRunner{}, stubPinger{})

	w, body := do(t, engine, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, _ = do(t, engine, httptest.NewRequest(http.MethodHead, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = do(t, engine, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])

	down := newTestRouter(&stubRunner{}, stubPinger{err: errors.New("no connection")})
	w, body = do(t, down, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "db_not_ready", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter(&stubRunner{}, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
