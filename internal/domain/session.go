package domain

import "time"

// SessionStatus is the lifecycle state of a wallet-pairing session.
type SessionStatus string

const (
	SessionPending      SessionStatus = "pending"
	SessionConnected    SessionStatus = "connected"
	SessionFailed       SessionStatus = "failed"
	SessionDisconnected SessionStatus = "disconnected"
	SessionExpired      SessionStatus = "expired"
)

// Session is one wallet-pairing session for a chat. A session is created
// under a temporary topic when pairing starts; once the wallet approves, the
// bridge assigns the final topic and the two ids refer to the same record.
type Session struct {
	ChatID         int64
	TempTopic      string
	FinalTopic     string // empty until the wallet approves
	Address        string // wallet address, set on approval
	PairingURI     string
	Status         SessionStatus
	Error          string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Topic returns the identifier signing requests should be addressed to: the
// final topic once the handshake has completed, the temporary one before.
func (s *Session) Topic() string {
	if s.FinalTopic != "" {
		return s.FinalTopic
	}
	return s.TempTopic
}

// Connected reports whether the session can sign requests.
func (s *Session) Connected() bool {
	return s.Status == SessionConnected && s.Address != ""
}
