package render

// State is the lifecycle position of a Session. It only moves forward.
type State int32

const (
	StateInitializing State = iota
	StateAwaitingStyles
	StateRevealed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingStyles:
		return "awaiting_styles"
	case StateRevealed:
		return "revealed"
	default:
		return "unknown"
	}
}

// RevealReason records why a session became visible.
type RevealReason string

const (
	// RevealImmediate: nothing to wait for (no stylesheets or empty input).
	RevealImmediate RevealReason = "immediate"
	// RevealSettled: every stylesheet finished loading or failed.
	RevealSettled RevealReason = "settled"
	// RevealTimeout: the reveal timeout fired first.
	RevealTimeout RevealReason = "timeout"
)
