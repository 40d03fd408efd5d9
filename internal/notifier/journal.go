package notifier

import (
	"context"

	"github.com/wootoff-monitor/internal/storage"
	"github.com/wootoff-monitor/internal/types"
)

// Journal records events in a storage journal
type Journal struct {
	journal storage.Journal
}

func NewJournal(j storage.Journal) *Journal {
	return &Journal{journal: j}
}

func (j *Journal) Notify(ctx context.Context, event types.Event) error {
	return j.journal.Append(ctx, event)
}
