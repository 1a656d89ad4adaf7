package protocol

// Error codes returned by the action endpoints.
const (
	ErrTooOften       = "TOO_OFTEN"
	ErrServerError    = "SERVER_ERROR"
	ErrOutOfRange     = "OUT_OF_RANGE"
	ErrNeedMoreEnergy = "NEED_MORE_ENERGY"
)

// ActionError classifies the outcome of an action call.
type ActionError int

const (
	ActionOK ActionError = iota
	// Rate limited by the server; the target needs a long rest.
	ActionTooOften
	// Server fault; treated like a rate limit.
	ActionServerError
	// The target is out of reach from the current location.
	ActionOutOfRange
	// The player lacks energy for the action.
	ActionNeedMoreEnergy
	// Any code not listed above.
	ActionUnrecognized
)

var knownCodes = map[string]ActionError{
	"":                ActionOK,
	ErrTooOften:       ActionTooOften,
	ErrServerError:    ActionServerError,
	ErrOutOfRange:     ActionOutOfRange,
	ErrNeedMoreEnergy: ActionNeedMoreEnergy,
}

// ParseActionError maps a wire code to its class. The empty code is success.
func ParseActionError(code string) ActionError {
	if e, ok := knownCodes[code]; ok {
		return e
	}
	return ActionUnrecognized
}

func IsKnownCode(code string) bool {
	_, ok := knownCodes[code]
	return ok
}

func (e ActionError) String() string {
	switch e {
	case ActionOK:
		return "OK"
	case ActionTooOften:
		return ErrTooOften
	case ActionServerError:
		return ErrServerError
	case ActionOutOfRange:
		return ErrOutOfRange
	case ActionNeedMoreEnergy:
		return ErrNeedMoreEnergy
	case ActionUnrecognized:
		return "UNRECOGNIZED"
	default:
		return "UNKNOWN"
	}
}
