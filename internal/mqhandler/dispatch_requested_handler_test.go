package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	contractmq "jobnotify/contracts/mq"
	"jobnotify/internal/model"
	"jobnotify/internal/service/dispatch"
	"jobnotify/pkg/mq"
	"jobnotify/pkg/trace"
	"jobnotify/pkg/util"
)

type stubRunner struct {
	err      error
	requests []dispatch.Request
	traceID  string
}

func (s *stubRunner) Run(ctx context.Context, req dispatch.Request) (*model.Summary, error) {
	s.requests = append(s.requests, req)
	s.traceID = trace.FromContext(ctx)
	if s.err != nil {
		return nil, s.err
	}
	return &model.Summary{Sent: 1, Total: 1}, nil
}

func TestHandleDispatchRequested(t *testing.T) {
	runner := &stubRunner{}
	h := NewDispatchRequestedHandler(runner, zap.NewNop())

	err := h.HandleDispatchRequested(context.Background(), json.RawMessage(`{"limit":25,"trace_id":"t-1"}`))
	require.NoError(t, err)
	require.Len(t, runner.requests, 1)
	assert.Equal(t, dispatch.Request{Limit: 25, Trigger: dispatch.TriggerMQ}, runner.requests[0])
	assert.Equal(t, "t-1", runner.traceID)
}

func TestHandleDispatchRequested_EmptyBodyUsesDefaults(t *testing.T) {
	runner := &stubRunner{}
	h := NewDispatchRequestedHandler(runner, zap.NewNop())

	require.NoError(t, h.HandleDispatchRequested(context.Background(), nil))
	require.Len(t, runner.requests, 1)
	assert.Equal(t, 0, runner.requests[0].Limit)
}

func TestHandleDispatchRequested_MalformedPayloadIsPermanent(t *testing.T) {
	runner := &stubRunner{}
	h := NewDispatchRequestedHandler(runner, zap.NewNop())

	for _, body := range []string{`{"limit":"ten"}`, `not json`, `{"limit":-1}`} {
		err := h.HandleDispatchRequested(context.Background(), json.RawMessage(body))
		var permanent *mq.PermanentError
		assert.ErrorAs(t, err, &permanent, body)
	}
	assert.Empty(t, runner.requests)
}

func newTestHandler(runner dispatch.Runner) *DispatchRequestedHandler {
	h := NewDispatchRequestedHandler(runner, zap.NewNop())
	h.retryDelay = 0
	return h
}

func TestHandleDispatchRequested_QueueFailureIsRetried(t *testing.T) {
	runner := &stubRunner{err: errors.New("read notification queue: timeout")}
	h := newTestHandler(runner)

	err := h.HandleDispatchRequested(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	var permanent *mq.PermanentError
	assert.False(t, errors.As(err, &permanent))
}

func TestHandleDispatchRequested_GivesUpAfterMaxRetries(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	runner := &stubRunner{err: errors.New("read notification queue: connection refused")}
	h := newTestHandler(runner).WithRetryCounter(util.NewRetryCounter(rdb, time.Hour)).WithMaxRetries(3)
	msg := json.RawMessage(`{"trace_id":"t-9"}`)

	var permanent *mq.PermanentError
	for i := 0; i < 3; i++ {
		err := h.HandleDispatchRequested(context.Background(), msg)
		require.Error(t, err)
		assert.False(t, errors.As(err, &permanent), "attempt %d", i+1)
	}

	err := h.HandleDispatchRequested(context.Background(), msg)
	require.ErrorAs(t, err, &permanent)
	assert.ErrorContains(t, err, "after 4 attempts")
	assert.Len(t, runner.requests, 4)

	// 进入死信后计数清零
	assert.False(t, mr.Exists(util.FormatRetryKey(handlerName, "t-9")))
}

func TestHandleDispatchRequested_SuccessResetsRetryCount(t *testing.T) {
	runner := &stubRunner{err: errors.New("timeout")}
	h := newTestHandler(runner).WithMaxRetries(2)

	for i := 0; i < 2; i++ {
		require.Error(t, h.HandleDispatchRequested(context.Background(), nil))
	}
	runner.err = nil
	require.NoError(t, h.HandleDispatchRequested(context.Background(), nil))

	runner.err = errors.New("timeout")
	err := h.HandleDispatchRequested(context.Background(), nil)
	var permanent *mq.PermanentError
	assert.False(t, errors.As(err, &permanent))
}

func TestHandleDispatchRequested_RedisDownFallsBackToLocalCount(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	runner := &stubRunner{err: errors.New("timeout")}
	h := newTestHandler(runner).WithRetryCounter(util.NewRetryCounter(rdb, time.Hour)).WithMaxRetries(1)

	require.Error(t, h.HandleDispatchRequested(context.Background(), json.RawMessage(`{"limit":5}`)))
	err := h.HandleDispatchRequested(context.Background(), json.RawMessage(`{"limit":5}`))
	var permanent *mq.PermanentError
	assert.ErrorAs(t, err, &permanent)
}

func TestMessageKey(t *testing.T) {
	withTrace := messageKey(contractmq.DispatchRequestedPayload{TraceID: "t-1"}, []byte(`{"trace_id":"t-1"}`))
	assert.Equal(t, "t-1", withTrace)

	a := messageKey(contractmq.DispatchRequestedPayload{Limit: 5}, []byte(`{"limit":5}`))
	b := messageKey(contractmq.DispatchRequestedPayload{Limit: 5}, []byte(`{"limit":5}`))
	c := messageKey(contractmq.DispatchRequestedPayload{Limit: 6}, []byte(`{"limit":6}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
