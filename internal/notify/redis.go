package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/bobarin/sceneflow/internal/render"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// publishTimeout bounds each publish so a slow Redis never stalls a run.
const publishTimeout = 2 * time.Second

// Event is the payload published on a scene's render channel.
type Event struct {
	Type      string                  `json:"type"` // "notification" or "state"
	SceneID   uuid.UUID               `json:"scene_id"`
	Kind      render.NotificationKind `json:"kind,omitempty"`
	Message   string                  `json:"message,omitempty"`
	State     *models.BatchRunState   `json:"state,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Channel is the pub/sub channel for a scene's render events.
func Channel(sceneID uuid.UUID) string {
	return fmt.Sprintf("scene:%s:render", sceneID)
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes render events over Redis pub/sub. Publish
// failures are logged and dropped.
type RedisNotifier struct {
	client publisher
	closer func() error
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewRedisNotifier(redisURL string, logger logrus.FieldLogger) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	n := newRedisNotifier(client, logger)
	n.closer = client.Close
	return n, nil
}

func newRedisNotifier(client publisher, logger logrus.FieldLogger) *RedisNotifier {
	return &RedisNotifier{
		client: client,
		closer: func() error { return nil },
		logger: logger.WithField("component", "notify"),
		now:    time.Now,
	}
}

func (n *RedisNotifier) Close() error {
	return n.closer()
}

func (n *RedisNotifier) Notify(ctx context.Context, sceneID uuid.UUID, kind render.NotificationKind, message string) {
	n.publish(ctx, Event{
		Type:    "notification",
		SceneID: sceneID,
		Kind:    kind,
		Message: message,
	})
}

func (n *RedisNotifier) ObserveState(ctx context.Context, sceneID uuid.UUID, state models.BatchRunState) {
	n.publish(ctx, Event{
		Type:    "state",
		SceneID: sceneID,
		State:   &state,
	})
}

func (n *RedisNotifier) publish(ctx context.Context, ev Event) {
	ev.Timestamp = n.now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.WithError(err).Error("Failed to marshal render event")
		return
	}

	// Events still go out while a run is winding down on shutdown
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := n.client.Publish(pubCtx, Channel(ev.SceneID), data).Err(); err != nil {
		n.logger.WithError(err).WithField("scene_id", ev.SceneID).Warn("[Redis] Failed to publish render event")
	}
}
