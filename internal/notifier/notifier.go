package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/wootoff-monitor/internal/config"
	"github.com/wootoff-monitor/internal/metrics"
	"github.com/wootoff-monitor/internal/storage"
	"github.com/wootoff-monitor/internal/types"
)

// Notifier delivers a change event to one transport
type Notifier interface {
	Notify(ctx context.Context, event types.Event) error
}

type target struct {
	name     string
	notifier Notifier
}

// Multi fans an event out to every registered notifier. One failing
// transport does not stop delivery to the rest.
type Multi struct {
	targets []target
	metrics *metrics.Collector
}

func NewMulti(metricsCollector *metrics.Collector) *Multi {
	return &Multi{metrics: metricsCollector}
}

func (m *Multi) Add(name string, n Notifier) {
	m.targets = append(m.targets, target{name: name, notifier: n})
}

func (m *Multi) Names() []string {
	names := make([]string, len(m.targets))
	for i, t := range m.targets {
		names[i] = t.name
	}
	return names
}

func (m *Multi) Notify(ctx context.Context, event types.Event) error {
	var errs []error
	for _, t := range m.targets {
		if err := t.notifier.Notify(ctx, event); err != nil {
			m.metrics.RecordNotifyError(t.name)
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every notifier that holds resources
func (m *Multi) Close() error {
	var errs []error
	for _, t := range m.targets {
		if c, ok := t.notifier.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the enabled transports. The log notifier is always on.
// journal may be nil when no journal is configured.
func FromConfig(cfg config.NotifyConfig, journal storage.Journal, metricsCollector *metrics.Collector) (*Multi, error) {
	multi := NewMulti(metricsCollector)
	multi.Add("log", NewLog())

	if cfg.Email.Enabled {
		multi.Add("email", NewEmail(EmailOptions{
			Server:   cfg.Email.Server,
			Port:     cfg.Email.Port,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
			Username: cfg.Email.Username,
			Password: os.Getenv(cfg.Email.PasswordEnv),
		}))
	}

	if cfg.Webhook.Enabled {
		multi.Add("webhook", NewWebhook(cfg.Webhook.URL, cfg.Webhook.Headers, cfg.Timeout()))
	}

	if cfg.Kafka.Enabled {
		multi.Add("kafka", NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}

	if cfg.Journal.Enabled {
		if journal == nil {
			return nil, errors.New("journal notifier enabled without a journal")
		}
		multi.Add("journal", NewJournal(journal))
	}

	log.Infof("Notifiers enabled: %v", multi.Names())
	return multi, nil
}
