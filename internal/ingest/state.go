package ingest

import "fmt"

// State is the lifecycle state of a Consumer.
//
//	Disconnected -> Connecting -> Streaming -> Reconnecting -> Connecting ...
//
// Disconnected is also the terminal state after shutdown or a fatal error.
type State int32

const (
	Disconnected State = iota
	Connecting
	Streaming
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
