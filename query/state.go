package query

// State tracks the progress of an in-flight query through the backend.
//
// The numeric values are part of the frontend API contract and mirror the
// progress percentages reported to polling clients.
type State int

const (
	// StateProcessing covers feature download and computation.
	StateProcessing State = 0
	// StateTraining marks classifier training in the backend.
	StateTraining State = 51
	// StateRanking marks ranking computation in the backend.
	StateRanking State = 52
	// StateResultsReady is the only state from which results may be fetched.
	StateResultsReady State = 100
	// StateFatalError covers unexpected failures and socket timeouts.
	StateFatalError State = 800
	// StateInvalidQID marks a worker whose backend query id was rejected.
	StateInvalidQID State = 850
	// StateResultReadError marks a failure reading results from the backend.
	StateResultReadError State = 870
	// StateInactive is the resting state of a query with no live worker.
	StateInactive State = 890
)

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	switch s {
	case StateResultsReady, StateFatalError, StateInvalidQID, StateResultReadError, StateInactive:
		return true
	}
	return false
}

func (s State) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StateTraining:
		return "training"
	case StateRanking:
		return "ranking"
	case StateResultsReady:
		return "results_ready"
	case StateFatalError:
		return "fatal_error_or_socket_timeout"
	case StateInvalidQID:
		return "invalid_qid"
	case StateResultReadError:
		return "result_read_error"
	case StateInactive:
		return "inactive"
	}
	return "unknown"
}
