package alert

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/observer"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

// Alerter receives non-fatal sync warnings.
type Alerter interface {
	Warning(ctx context.Context, title, detail string)
}

// Publisher is the subset of the NATS client used to forward alerts.
type Publisher interface {
	Publish(subject string, data []byte, headers map[string]string) error
}

// Event is the alert payload published on NATS.
type Event struct {
	Level     string    `json:"level"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail"`
	SyncID    string    `json:"sync_id,omitempty"`
	JobKind   string    `json:"job_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier logs every warning and, when a publisher is set, forwards it to NATS.
// Publish failures are logged and swallowed.
type Notifier struct {
	publisher Publisher
	subject   string
}

var _ Alerter = (*Notifier)(nil)

// NewNotifier creates a notifier. A nil publisher only logs.
func NewNotifier(publisher Publisher, subject string) *Notifier {
	return &Notifier{publisher: publisher, subject: subject}
}

func (n *Notifier) Warning(ctx context.Context, title, detail string) {
	log := logger.FromContext(ctx)
	log.Warn(title, zap.String("detail", detail))
	observer.IncAlert(title)

	if n.publisher == nil || n.subject == "" {
		return
	}

	syncID, _ := audit.SyncIDFromContext(ctx)
	event := Event{
		Level:     "warning",
		Title:     title,
		Detail:    detail,
		SyncID:    syncID,
		JobKind:   audit.JobKindFromContext(ctx),
		Timestamp: utils.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error("Failed to marshal alert", zap.Error(err))
		return
	}
	headers := map[string]string{"Level": event.Level}
	if syncID != "" {
		headers["Sync-Id"] = syncID
	}
	if err := n.publisher.Publish(n.subject, data, headers); err != nil {
		log.Error("Failed to publish alert", zap.String("subject", n.subject), zap.Error(err))
	}
}
