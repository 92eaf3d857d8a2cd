package engine

// State is the lifecycle of one task instance.
//
// Pending -> Ready -> Running -> Completed | Failed
//
// Pending lacks satisfied predecessors. Ready has every predecessor
// Completed and every required channel item emitted, but has not been
// admitted by the resource budget. A cache hit moves Pending straight to
// Completed without passing through Running.
type State int

const (
	StatePending State = iota
	StateReady
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is Completed or Failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Policy selects what happens to the rest of the run when a branch fails.
type Policy int

const (
	// PolicyFailFast stops dispatching once any instance fails, cancels
	// running work cooperatively, and drains. This is the default.
	PolicyFailFast Policy = iota
	// PolicyBestEffort keeps independent branches running; only the failed
	// branch's downstream closure is marked failed without execution.
	PolicyBestEffort
)

func (p Policy) String() string {
	if p == PolicyBestEffort {
		return "best-effort"
	}
	return "fail-fast"
}
