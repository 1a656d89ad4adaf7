package journal

import (
	"time"
)

// Decision is what the engine did with a target.
type Decision string

const (
	// Deferred: energy too low, the target got an action cooldown without a call.
	Deferred Decision = "deferred"
	Called   Decision = "called"
)

// Entry is one actioning decision.
type Entry struct {
	Time     time.Time `json:"time"`
	TargetID string    `json:"target_id"`
	Target   string    `json:"target"`
	Distance int       `json:"distance_m"`
	Decision Decision  `json:"decision"`
	Outcome  string    `json:"outcome,omitempty"`
	Code     string    `json:"code,omitempty"`
	Burnout  bool      `json:"burnout,omitempty"`
	Energy   int       `json:"energy"`
	Items    int       `json:"items,omitempty"`
}

// Actions journals actioning decisions to <dir>/actions-<hour>.jsonl.zst.
type Actions struct{ w *Writer }

func NewActions(dir string) (*Actions, error) {
	w, err := NewWriter(dir, "actions")
	if err != nil {
		return nil, err
	}
	return &Actions{w: w}, nil
}

func (a *Actions) Record(e Entry) error { return a.w.Append(e.Time, e) }
func (a *Actions) Close() error         { return a.w.Close() }
