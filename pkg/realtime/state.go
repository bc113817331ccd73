package realtime

// State of the subscription connection.
//
//	connecting -> subscribed -> {error, timed_out} -> connecting ... -> closed
type State int32

const (
	StateConnecting State = iota
	StateSubscribed
	StateError
	StateTimedOut
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateError:
		return "error"
	case StateTimedOut:
		return "timed_out"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
