package notifier

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/wootoff-monitor/internal/types"
)

// Log writes every event to the process log
type Log struct {
	logger log.FieldLogger
}

func NewLog() *Log {
	return &Log{logger: log.StandardLogger()}
}

func (l *Log) Notify(_ context.Context, event types.Event) error {
	fields := log.Fields{
		"event_id": event.ID,
		"decision": event.Decision.String(),
		"title":    event.Snapshot.Title,
		"price":    event.Snapshot.Price,
		"status":   event.Snapshot.Status.String(),
	}
	if event.Previous != nil {
		fields["previous_title"] = event.Previous.Title
		fields["previous_status"] = event.Previous.Status.String()
	}
	l.logger.WithFields(fields).Info(event.Summary())
	return nil
}
