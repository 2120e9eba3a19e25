package state

import (
	"errors"

	"github.com/ArturoParra/Practica3-Chat/pkg/transport"
)

var (
	// ErrUserTaken is returned when a user id already has a live session.
	ErrUserTaken = errors.New("user name already taken")
	// ErrUserName is returned for an empty name or one containing
	// whitespace or the list separator.
	ErrUserName = errors.New("invalid user name")

	ErrRoomExists = errors.New("room already exists")
	// ErrRoomName is returned for room names containing whitespace.
	ErrRoomName   = errors.New("invalid room name")
	ErrNoSuchRoom = errors.New("room not found")
)

type Manager interface {
	// --- Connection registry ---

	// RegisterUser admits a session under id. It is the synchronization
	// point that resolves name collisions: the name is accepted only if
	// absent.
	RegisterUser(id string, conn *transport.Connection) (*Session, error)
	LookupUser(id string) (*Session, bool)
	// RemoveUser deletes the session and every room membership it holds.
	// It is idempotent.
	RemoveUser(id string)
	AllUserIDs() []string

	// --- Room directory ---

	CreateRoom(name string) error
	FindRoom(name string) bool
	// Join adds the user to the room's membership set. Joining a room the
	// user is already in is a no-op.
	Join(room, userID string) error
	Leave(room, userID string)
	RoomMembers(room string) ([]string, error)
	AllRoomNames() []string
}
