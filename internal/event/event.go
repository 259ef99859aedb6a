package event

import (
	"time"

	"github.com/google/uuid"

	"go-exam-portal/internal/model"
)

type Type string

const (
	TypePrincipalRegistered Type = "principal.registered"
	TypeLoginSucceeded      Type = "login.succeeded"
	TypeLoginFailed         Type = "login.failed"
	TypeSessionRotated      Type = "session.rotated"
	TypeSessionEnded        Type = "session.ended"
	TypePasswordChanged     Type = "password.changed"
	TypeProfileUpdated      Type = "profile.updated"
	TypeAvatarUpdated       Type = "avatar.updated"
)

type Event struct {
	ID        string     `json:"id"`
	Type      Type       `json:"type"`
	Role      model.Role `json:"role,omitempty"`
	ActorID   string     `json:"actor_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Timestamp string     `json:"timestamp"`
}

func New(eventType Type, role model.Role, actorID string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Role:      role,
		ActorID:   actorID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// WithReason tags failure events with the error code that caused them.
func (e Event) WithReason(reason string) Event {
	e.Reason = reason
	return e
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events of the given types, or of every type when none
	// are given.
	Subscribe(types ...Type) (<-chan Event, func())
}
