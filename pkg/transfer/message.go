package transfer

import (
	"time"
)

// Message is the unit carried by the submission queue.
type Message struct {
	ID         string
	CreatedAt  time.Time
	RetryCount int
	Message    any
}

// SubmitMessage asks the submitter to hand a signed payload to the
// custody provider.
type SubmitMessage struct {
	Payload *SignedPayload
}

func newMessage(id string, message any) *Message {
	return &Message{
		ID:         id,
		CreatedAt:  time.Now(),
		RetryCount: 0,
		Message:    message,
	}
}

func NewSubmitMessage(payload *SignedPayload) *Message {
	return newMessage(payload.RecordID.String(), SubmitMessage{Payload: payload})
}
