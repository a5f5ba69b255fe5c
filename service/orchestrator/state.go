package orchestrator

// State is a step of the trade state machine:
//
//	Init -> Borrowed -> ActionsExecuted -> Repaid -> Committed
//
// Any error moves the trade to Aborted.
type State int

const (
	StateInit State = iota
	StateBorrowed
	StateActionsExecuted
	StateRepaid
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateBorrowed:
		return "borrowed"
	case StateActionsExecuted:
		return "actions_executed"
	case StateRepaid:
		return "repaid"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
