package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the sale state of the displayed item
type Status int

const (
	StatusUnknown Status = iota
	StatusActive
	StatusSoldOut
	StatusEnded
)

var statusNames = map[Status]string{
	StatusUnknown: "UNKNOWN",
	StatusActive:  "ACTIVE",
	StatusSoldOut: "SOLD_OUT",
	StatusEnded:   "ENDED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus accepts the upper-case names as well as lower-case and
// hyphenated spellings ("sold-out").
func ParseStatus(text string) (Status, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(text), "-", "_"))
	for s, name := range statusNames {
		if name == norm {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown status %q", text)
}

// Snapshot is the parsed state of the current sale item at one poll.
// It is passed by value and never mutated after construction.
type Snapshot struct {
	Title      string              `json:"title"`
	Price      string              `json:"price"`
	PriceValue decimal.NullDecimal `json:"price_value"`
	Status     Status              `json:"status"`
	FetchedAt  time.Time           `json:"fetched_at"`
	Source     string              `json:"source,omitempty"`
}

// Key returns the fields that identify a reportable change
func (s Snapshot) Key() (string, Status) {
	return s.Title, s.Status
}

func (s Snapshot) String() string {
	price := s.Price
	if price == "" {
		price = "n/a"
	}
	return fmt.Sprintf("%s - %s [%s]", s.Title, price, s.Status)
}

// Decision classifies how a new Snapshot differs from the previous one
type Decision int

const (
	NoChange Decision = iota
	FirstObservation
	NewItem
	StatusChanged
	PriceChanged
)

var decisionNames = map[Decision]string{
	NoChange:         "NO_CHANGE",
	FirstObservation: "FIRST_OBSERVATION",
	NewItem:          "NEW_ITEM",
	StatusChanged:    "STATUS_CHANGED",
	PriceChanged:     "PRICE_CHANGED",
}

func (d Decision) String() string {
	if name, ok := decisionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decision) UnmarshalText(text []byte) error {
	for v, name := range decisionNames {
		if name == string(text) {
			*d = v
			return nil
		}
	}
	return fmt.Errorf("unknown decision %q", text)
}

// Notable reports whether the decision should reach a notifier
func (d Decision) Notable() bool {
	return d != NoChange
}

// Event is the payload handed to notifiers. Snapshots are copies.
type Event struct {
	ID         string    `json:"id"`
	Decision   Decision  `json:"decision"`
	Snapshot   Snapshot  `json:"snapshot"`
	Previous   *Snapshot `json:"previous,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
	URL        string    `json:"url"`
}

// Summary renders a one-line description for human-facing transports
func (e Event) Summary() string {
	switch e.Decision {
	case StatusChanged:
		if e.Previous != nil {
			return fmt.Sprintf("%s (%s -> %s): %s", e.Decision, e.Previous.Status, e.Snapshot.Status, e.Snapshot)
		}
	case PriceChanged:
		if e.Previous != nil {
			return fmt.Sprintf("%s (%s -> %s): %s", e.Decision, e.Previous.Price, e.Snapshot.Price, e.Snapshot)
		}
	}
	return fmt.Sprintf("%s: %s", e.Decision, e.Snapshot)
}
