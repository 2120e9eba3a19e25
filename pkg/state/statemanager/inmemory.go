package statemanager

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/ArturoParra/Practica3-Chat/pkg/state"
	"github.com/ArturoParra/Practica3-Chat/pkg/transport"
)

// InMemoryManager is the process-wide user registry and room directory.
// Lock order is always userMu before roomMu.
type InMemoryManager struct {
	users map[string]*state.Session
	rooms map[string]*state.Room

	userMu sync.RWMutex
	roomMu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger, defaultRooms []string) *InMemoryManager {
	m := &InMemoryManager{
		users:  make(map[string]*state.Session),
		rooms:  make(map[string]*state.Room),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
	for _, name := range defaultRooms {
		m.rooms[name] = &state.Room{Name: name, Members: make(map[string]struct{})}
	}
	return m
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

// --- Connection registry ---

func (m *InMemoryManager) RegisterUser(id string, conn *transport.Connection) (*state.Session, error) {
	if err := validateUserName(id); err != nil {
		return nil, err
	}

	m.userMu.Lock()
	defer m.userMu.Unlock()

	if _, exists := m.users[id]; exists {
		return nil, state.ErrUserTaken
	}
	sess := &state.Session{
		ID:        conn.ID(),
		User:      id,
		Transport: conn,
		CreatedAt: time.Now(),
	}
	m.users[id] = sess
	m.logger.Debug("user registered", slog.String("userID", id), slog.String("connID", sess.ID.String()))
	return sess, nil
}

func (m *InMemoryManager) LookupUser(id string) (*state.Session, bool) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()
	sess, ok := m.users[id]
	return sess, ok
}

func (m *InMemoryManager) RemoveUser(id string) {
	m.userMu.Lock()
	defer m.userMu.Unlock()

	if _, ok := m.users[id]; !ok {
		// already removed by an earlier teardown path
		return
	}
	delete(m.users, id)

	// Drop every room membership under the same critical section, so no
	// membership snapshot taken after this point can still see the user.
	m.roomMu.Lock()
	for _, room := range m.rooms {
		delete(room.Members, id)
	}
	m.roomMu.Unlock()

	m.logger.Debug("user removed", slog.String("userID", id))
}

func (m *InMemoryManager) AllUserIDs() []string {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// --- Room directory ---

func (m *InMemoryManager) CreateRoom(name string) error {
	if err := validateRoomName(name); err != nil {
		return err
	}

	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	if _, exists := m.rooms[name]; exists {
		return state.ErrRoomExists
	}
	m.rooms[name] = &state.Room{Name: name, Members: make(map[string]struct{})}
	m.logger.Debug("room created", slog.String("roomID", name))
	return nil
}

func (m *InMemoryManager) FindRoom(name string) bool {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()
	_, ok := m.rooms[name]
	return ok
}

func (m *InMemoryManager) Join(room, userID string) error {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	r, ok := m.rooms[room]
	if !ok {
		return state.ErrNoSuchRoom
	}
	r.Members[userID] = struct{}{}
	m.logger.Debug("user joined room", slog.String("userID", userID), slog.String("roomID", room))
	return nil
}

func (m *InMemoryManager) Leave(room, userID string) {
	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	r, ok := m.rooms[room]
	if !ok {
		return
	}
	delete(r.Members, userID)
	m.logger.Debug("user left room", slog.String("userID", userID), slog.String("roomID", room))
}

func (m *InMemoryManager) RoomMembers(room string) ([]string, error) {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	r, ok := m.rooms[room]
	if !ok {
		return nil, state.ErrNoSuchRoom
	}
	members := make([]string, 0, len(r.Members))
	for id := range r.Members {
		members = append(members, id)
	}
	sort.Strings(members)
	return members, nil
}

func (m *InMemoryManager) AllRoomNames() []string {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	names := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// --- Validation ---

func validateUserName(name string) error {
	if name == "" {
		return state.ErrUserName
	}
	// "|" is the list-push separator and the data-channel marker, and
	// whitespace breaks command argument parsing.
	if strings.ContainsRune(name, '|') || strings.ContainsFunc(name, unicode.IsSpace) {
		return state.ErrUserName
	}
	return nil
}

func validateRoomName(name string) error {
	if name == "" || strings.ContainsFunc(name, unicode.IsSpace) {
		return state.ErrRoomName
	}
	if strings.ContainsRune(name, '|') {
		return state.ErrRoomName
	}
	return nil
}
