// Package notify delivers render run notifications and state snapshots.
package notify

import (
	"context"

	"github.com/bobarin/sceneflow/internal/models"
	"github.com/bobarin/sceneflow/internal/render"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sink is both a render.Notifier and a render.StateObserver.
type Sink interface {
	render.Notifier
	render.StateObserver
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct {
	logger logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger.WithField("component", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, sceneID uuid.UUID, kind render.NotificationKind, message string) {
	entry := n.logger.WithFields(logrus.Fields{
		"scene_id": sceneID,
		"kind":     kind,
	})
	switch kind {
	case render.NotifyError:
		entry.Error(message)
	case render.NotifyWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}

func (n *LogNotifier) ObserveState(ctx context.Context, sceneID uuid.UUID, state models.BatchRunState) {
	n.logger.WithFields(logrus.Fields{
		"scene_id":  sceneID,
		"rendering": state.IsRendering,
		"progress":  state.Progress,
		"completed": state.CompletedCount,
		"failed":    state.FailedCount,
	}).Debug("Render state changed")
}

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, sceneID uuid.UUID, kind render.NotificationKind, message string) {
	for _, s := range m {
		s.Notify(ctx, sceneID, kind, message)
	}
}

func (m Multi) ObserveState(ctx context.Context, sceneID uuid.UUID, state models.BatchRunState) {
	for _, s := range m {
		s.ObserveState(ctx, sceneID, state)
	}
}
