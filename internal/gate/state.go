package gate

import "fmt"

// State is where a device run currently stands.
type State int

const (
	StateLoading State = iota
	StateNeedsUsername
	StateNeedsPin
	StateAuthenticated
	StateFailed
)

var stateNames = [...]string{
	StateLoading:       "loading",
	StateNeedsUsername: "needs_username",
	StateNeedsPin:      "needs_pin",
	StateAuthenticated: "authenticated",
	StateFailed:        "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Notice is a user-visible signal produced by the last gate operation.
type Notice string

const (
	NoticeNone           Notice = ""
	NoticeIncorrectPin   Notice = "incorrect_pin"
	NoticePinSet         Notice = "pin_set"
	NoticePinSetFailed   Notice = "pin_set_failed"
	NoticePinEnabled     Notice = "pin_enabled"
	NoticePinDisabled    Notice = "pin_disabled"
	NoticeAccountCreated Notice = "account_created"
	NoticeSignedIn       Notice = "signed_in"
	NoticeSignedOut      Notice = "signed_out"
	NoticeDataCleared    Notice = "data_cleared"
)

// Snapshot is a read-only view of a gate run.
type Snapshot struct {
	State    State  `json:"state"`
	Username string `json:"username,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	// LastUsername is the username a previous sign-in left behind, for prefilling.
	LastUsername string `json:"last_username,omitempty"`
	PinSetup     bool   `json:"pin_setup"`
	Entered      int    `json:"digits_entered"`
	Notice       Notice `json:"notice,omitempty"`
	Error        string `json:"error,omitempty"`
}
