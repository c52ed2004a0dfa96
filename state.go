package offline

// State is a worker's position in its lifecycle.
//
//	parsed → installing → installed → activating → activated
//
// Any state may move to redundant, which is terminal.
type State int

// Lifecycle states.
const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

var stateNames = [...]string{
	StateParsed:     "parsed",
	StateInstalling: "installing",
	StateInstalled:  "installed",
	StateActivating: "activating",
	StateActivated:  "activated",
	StateRedundant:  "redundant",
}

// String returns the lowercase state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// canTransition reports whether from → to is a legal lifecycle step.
// Installing again from installed is allowed; it refreshes the assets.
func canTransition(from, to State) bool {
	if from == StateRedundant {
		return false
	}
	switch to {
	case StateInstalling:
		return from == StateParsed || from == StateInstalled
	case StateInstalled:
		return from == StateInstalling
	case StateActivating:
		return from == StateInstalled
	case StateActivated:
		return from == StateActivating
	case StateRedundant:
		return true
	default:
		return false
	}
}
