package domain

// SessionStatus tags a SessionState.
type SessionStatus string

const (
	StatusSignedIn  SessionStatus = "signed_in"
	StatusSignedOut SessionStatus = "signed_out"
)

// SessionState is the payload fanned out to state subscribers.
// Identity is set only when Status is StatusSignedIn.
type SessionState struct {
	Status   SessionStatus `json:"status"`
	Identity *Identity     `json:"identity,omitempty"`
}

func SignedIn(id Identity) SessionState {
	return SessionState{Status: StatusSignedIn, Identity: &id}
}

func SignedOut() SessionState {
	return SessionState{Status: StatusSignedOut}
}

// StateFromIdentity maps a provider notification (nil means signed out).
func StateFromIdentity(id *Identity) SessionState {
	if id == nil {
		return SignedOut()
	}
	return SignedIn(*id)
}

func (s SessionState) IsSignedIn() bool { return s.Status == StatusSignedIn }
