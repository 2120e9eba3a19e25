package state

import (
	"time"

	"github.com/ArturoParra/Practica3-Chat/pkg/transport"
	"github.com/google/uuid"
)

// Session is one registered control connection. The user id is immutable
// after registration.
type Session struct {
	ID        uuid.UUID
	User      string
	Transport *transport.Connection // the actual connection for sending messages
	CreatedAt time.Time

	// CurrentRoom is only read and written by the session's own control
	// goroutine; it always names an existing room once registration
	// completes.
	CurrentRoom string
}

// Room is a named broadcast group. It holds membership, not ownership: the
// sessions themselves live in the user registry. Rooms are never deleted.
type Room struct {
	Name    string
	Members map[string]struct{} // member user ids
}
