package harvest

import "time"

// State is the orchestrator's position in the harvest loop
type State string

const (
	StateIdle              State = "idle"
	StateInit              State = "init"
	StateFetching          State = "fetching"
	StateCommitting        State = "committing"
	StateThrottling        State = "throttling"
	StateTerminalSuccess   State = "terminal_success"
	StateTerminalExhausted State = "terminal_exhausted"
	StateCancelled         State = "cancelled"
	StateFailed            State = "failed"
)

// Terminal reports whether no further pages will be fetched in this state
func (s State) Terminal() bool {
	switch s {
	case StateTerminalSuccess, StateTerminalExhausted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// Reason explains why a run stopped
type Reason string

const (
	ReasonTargetReached Reason = "target_reached"
	ReasonExhausted     Reason = "exhausted"
	ReasonCancelled     Reason = "cancelled"
	ReasonFailed        Reason = "failed"
)

func (r Reason) state() State {
	switch r {
	case ReasonTargetReached:
		return StateTerminalSuccess
	case ReasonExhausted:
		return StateTerminalExhausted
	case ReasonCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}

// Result summarises a finished run
type Result struct {
	RunID           string        `json:"run_id"`
	Reason          Reason        `json:"reason"`
	Pages           int           `json:"pages"`
	Detections      int64         `json:"detections"`
	StartDetections int64         `json:"start_detections"`
	Processed       int           `json:"processed"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Progress is a point-in-time view of the current or last run
type Progress struct {
	RunID            string    `json:"run_id,omitempty"`
	State            State     `json:"state"`
	Page             int       `json:"page"`
	Detections       int64     `json:"detections"`
	Target           int64     `json:"target"`
	Percent          float64   `json:"percent"`
	Processed        int       `json:"processed"`
	EmptyPages       int       `json:"empty_pages"`
	RecordsPerSecond float64   `json:"records_per_second"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	Reason           Reason    `json:"reason,omitempty"`
}
