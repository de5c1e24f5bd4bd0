package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/bobarin/sceneflow/internal/render"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.msgs = append(f.msgs, published{channel: channel, payload: message.([]byte)})
	return redis.NewIntResult(1, f.err)
}

func bufferLogger() (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	return l, &buf
}

func TestRedisNotifierPublishesEvents(t *testing.T) {
	pub := &fakePublisher{}
	logger, _ := bufferLogger()
	n := newRedisNotifier(pub, logger)
	n.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	sceneID := uuid.New()
	current := uuid.New()
	n.Notify(context.Background(), sceneID, render.NotifyWarning, "Rendered 2 segments, 1 failed")
	n.ObserveState(context.Background(), sceneID, models.BatchRunState{
		IsRendering:      true,
		Progress:         33,
		CurrentSegmentID: &current,
		CompletedCount:   1,
	})

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "scene:"+sceneID.String()+":render", pub.msgs[0].channel)

	var note Event
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &note))
	assert.Equal(t, "notification", note.Type)
	assert.Equal(t, render.NotifyWarning, note.Kind)
	assert.Equal(t, "Rendered 2 segments, 1 failed", note.Message)
	assert.Nil(t, note.State)

	var state Event
	require.NoError(t, json.Unmarshal(pub.msgs[1].payload, &state))
	assert.Equal(t, "state", state.Type)
	require.NotNil(t, state.State)
	assert.Equal(t, 33, state.State.Progress)
	assert.Equal(t, &current, state.State.CurrentSegmentID)
	assert.True(t, n.now().Equal(state.Timestamp))
}

func TestRedisNotifierLogsPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	logger, buf := bufferLogger()
	n := newRedisNotifier(pub, logger)

	n.Notify(context.Background(), uuid.New(), render.NotifyInfo, "No segments to render")

	assert.Contains(t, buf.String(), "Failed to publish render event")
}

func TestRedisNotifierPublishesAfterCancel(t *testing.T) {
	pub := &fakePublisher{}
	logger, _ := bufferLogger()
	n := newRedisNotifier(pub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Notify(ctx, uuid.New(), render.NotifyInfo, "Batch render cancelled after 1 of 3 segments")

	assert.Len(t, pub.msgs, 1)
}

func TestLogNotifierLevels(t *testing.T) {
	logger, buf := bufferLogger()
	n := NewLogNotifier(logger)
	sceneID := uuid.New()

	n.Notify(context.Background(), sceneID, render.NotifyError, "Video generation is not configured")
	assert.Contains(t, buf.String(), "level=error")
	assert.Contains(t, buf.String(), sceneID.String())

	buf.Reset()
	n.Notify(context.Background(), sceneID, render.NotifyWarning, "Rendered 1 segments, 1 failed")
	assert.Contains(t, buf.String(), "level=warning")

	buf.Reset()
	n.ObserveState(context.Background(), sceneID, models.BatchRunState{Progress: 50})
	assert.Contains(t, buf.String(), "progress=50")
}

type recordingSink struct {
	notes  []string
	states []models.BatchRunState
}

func (r *recordingSink) Notify(ctx context.Context, sceneID uuid.UUID, kind render.NotificationKind, message string) {
	r.notes = append(r.notes, message)
}

func (r *recordingSink) ObserveState(ctx context.Context, sceneID uuid.UUID, state models.BatchRunState) {
	r.states = append(r.states, state)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := Multi{a, b}

	m.Notify(context.Background(), uuid.New(), render.NotifySuccess, "Rendered 3 segments")
	m.ObserveState(context.Background(), uuid.New(), models.BatchRunState{Progress: 100})

	for _, s := range []*recordingSink{a, b} {
		assert.Equal(t, []string{"Rendered 3 segments"}, s.notes)
		require.Len(t, s.states, 1)
		assert.Equal(t, 100, s.states[0].Progress)
	}
}
