package amqp

import (
	"encoding/json"
	"time"

	"wade/internal/session"
)

// RegistrationMessage announces a new account waiting for approval.
// The worker looks the user up again, so only identifying fields travel.
type RegistrationMessage struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	Role      string    `json:"role,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRegistrationMessage builds a message from a completed sign-up.
func NewRegistrationMessage(r session.Registered) *RegistrationMessage {
	ts := r.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &RegistrationMessage{
		UserID:    r.UserID,
		Email:     r.Email,
		FirstName: r.FirstName,
		Role:      r.Role,
		Timestamp: ts,
	}
}

// ToJSON converts the message to JSON bytes
func (m *RegistrationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RegistrationMessageFromJSON creates a message from JSON bytes
func RegistrationMessageFromJSON(data []byte) (*RegistrationMessage, error) {
	var msg RegistrationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
