// Package broadcast formats and fans out protocol lines to rooms, single
// users, or the whole connected population. It owns every server→client
// message format.
package broadcast

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/ArturoParra/Practica3-Chat/pkg/state"
)

const (
	roomListTag   = "SALAS:"
	userListTag   = "USUARIOS:"
	fileNoticeTag = "ARCHIVO:"
	listSep       = "|"
)

type Broadcaster struct {
	state  state.Manager
	logger *slog.Logger

	// mu serializes fan-outs so every member of a room receives messages
	// in the order the server processed them.
	mu sync.Mutex
}

func New(logger *slog.Logger, st state.Manager) *Broadcaster {
	return &Broadcaster{
		state:  st,
		logger: logger.With(slog.String("component", "broadcaster")),
	}
}

// ToRoom delivers "[room] from: text" to a snapshot of the room's current
// members, the sender included.
func (b *Broadcaster) ToRoom(room, text, from string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, err := b.state.RoomMembers(room)
	if err != nil {
		b.logger.Warn("broadcast to unknown room", slog.String("roomID", room))
		return
	}
	line := "[" + room + "] " + from + ": " + text
	for _, id := range members {
		if sess, ok := b.state.LookupUser(id); ok {
			sess.Transport.Send(line)
		}
	}
}

// ToUser delivers a private message. Both ends see a consistent transcript:
// the recipient gets the line framed from the sender's name, the sender an
// echo framed from the recipient's. An offline recipient is reported to the
// sender only.
func (b *Broadcaster) ToUser(to, text, from string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sender, senderOK := b.state.LookupUser(from)
	recipient, recipientOK := b.state.LookupUser(to)
	if !recipientOK {
		if senderOK {
			sender.Transport.Send("Error: El usuario " + to + " no está conectado.")
		}
		return
	}
	if !senderOK {
		return
	}
	recipient.Transport.Send("[Privado con " + from + "] " + from + ": " + text)
	sender.Transport.Send("[Privado con " + to + "] " + from + ": " + text)
}

// System sends a server notice to one user.
func (b *Broadcaster) System(to, text string) {
	if sess, ok := b.state.LookupUser(to); ok {
		sess.Transport.Send(text)
	}
}

// ToAll sends a line to every registered user.
func (b *Broadcaster) ToAll(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toAllLocked(text)
}

// ToAllExcept sends a line to every registered user but one.
func (b *Broadcaster) ToAllExcept(except, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.state.AllUserIDs() {
		if id == except {
			continue
		}
		if sess, ok := b.state.LookupUser(id); ok {
			sess.Transport.Send(text)
		}
	}
}

// PushLists re-sends the room and user list lines to the whole population.
// Called whenever the room set or the connected population changes.
func (b *Broadcaster) PushLists() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.toAllLocked(roomListTag + strings.Join(b.state.AllRoomNames(), listSep))
	b.toAllLocked(userListTag + strings.Join(b.state.AllUserIDs(), listSep))
}

// FileNotice tells each listed user that a staged file is available.
func (b *Broadcaster) FileNotice(users []string, sender, fileName string, size int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := fileNoticeTag + sender + ":" + fileName + ":" + strconv.FormatInt(size, 10)
	for _, id := range users {
		if sess, ok := b.state.LookupUser(id); ok {
			sess.Transport.Send(line)
		}
	}
}

func (b *Broadcaster) toAllLocked(text string) {
	for _, id := range b.state.AllUserIDs() {
		if sess, ok := b.state.LookupUser(id); ok {
			sess.Transport.Send(text)
		}
	}
}
