package refresh

import (
	"time"

	"price_service/internal/models"
)

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// PassReport describes one finished refresh pass. It only lives in logs, metrics and mail.
type PassReport struct {
	RunID      string
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Products   int
	Outcomes   []models.RefreshOutcome
	Aborted    bool
	Err        error
}

func (r PassReport) Updated() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Updated {
			n++
		}
	}
	return n
}

func (r PassReport) Failed() int {
	return len(r.Outcomes) - r.Updated()
}

func (r PassReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
