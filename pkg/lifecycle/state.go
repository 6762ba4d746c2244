package lifecycle

import "fmt"

type State int

const (
	Idle State = iota
	Connecting
	Ready
	Active
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Active:
		return "active"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Live reports whether the rendering connection is up.
func (s State) Live() bool {
	return s == Ready || s == Active
}

// Controls is the state of the user-facing start and stop affordances.
type Controls struct {
	StartEnabled bool
	StartLoading bool
	StopEnabled  bool
}

var (
	idleControls     = Controls{StartEnabled: true}
	startingControls = Controls{StartLoading: true}
	liveControls     = Controls{StopEnabled: true}
)
