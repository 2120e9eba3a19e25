package statemanager_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/ArturoParra/Practica3-Chat/pkg/state"
	"github.com/ArturoParra/Practica3-Chat/pkg/state/statemanager"
	"github.com/ArturoParra/Practica3-Chat/pkg/transport"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

var testRooms = []string{"general", "redes"}

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(newTestLogger(), testRooms)
}

func newTransportConn(t *testing.T) *transport.Connection {
	t.Helper()
	client, srv := net.Pipe()
	t.Cleanup(func() { client.Close() })

	var wg sync.WaitGroup
	conn := transport.NewConnection(context.Background(), &wg, srv, transport.ConnectionConfig{}, nil, newTestLogger())
	conn.Run()
	t.Cleanup(func() { conn.Close(nil) })
	return conn
}

// --- Connection registry tests ---

func TestUserLifecycle(t *testing.T) {
	m := newTestManager()
	conn := newTransportConn(t)

	// 1. Register
	sess, err := m.RegisterUser("ana", conn)
	if err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}
	if sess.User != "ana" {
		t.Errorf("Expected user id ana, got %s", sess.User)
	}
	if sess.ID != conn.ID() {
		t.Errorf("Session ID should match the transport connection ID")
	}

	// 2. A second session under the same name is rejected
	other := newTransportConn(t)
	if _, err := m.RegisterUser("ana", other); !errors.Is(err, state.ErrUserTaken) {
		t.Fatalf("Expected ErrUserTaken for duplicate name, got %v", err)
	}

	// 3. Lookup
	got, found := m.LookupUser("ana")
	if !found || got != sess {
		t.Fatal("LookupUser failed to find registered session")
	}

	// 4. Remove, then the name is free again
	m.RemoveUser("ana")
	if _, found := m.LookupUser("ana"); found {
		t.Error("Found user after removal")
	}
	if _, err := m.RegisterUser("ana", other); err != nil {
		t.Fatalf("Re-registering a removed name failed: %v", err)
	}
}

func TestRegisterUserValidation(t *testing.T) {
	m := newTestManager()
	conn := newTransportConn(t)

	for _, name := range []string{"", "two words", "tab\tname", "pipe|name"} {
		if _, err := m.RegisterUser(name, conn); !errors.Is(err, state.ErrUserName) {
			t.Errorf("RegisterUser(%q): expected ErrUserName, got %v", name, err)
		}
	}
}

func TestConcurrentRegistrationSingleWinner(t *testing.T) {
	m := newTestManager()
	const attempts = 50

	conns := make([]*transport.Connection, attempts)
	for i := range conns {
		conns[i] = newTransportConn(t)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := m.RegisterUser("popular", conns[i]); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("Expected exactly one successful registration, got %d", winners)
	}
}

func TestRemoveUserIsIdempotent(t *testing.T) {
	m := newTestManager()
	m.RemoveUser("nobody") // must not panic or block
}

// --- Room directory tests ---

func TestDefaultRoomsSeeded(t *testing.T) {
	m := newTestManager()
	for _, name := range testRooms {
		if !m.FindRoom(name) {
			t.Errorf("Default room %q missing at startup", name)
		}
	}
}

func TestCreateRoom(t *testing.T) {
	m := newTestManager()

	if err := m.CreateRoom("proyecto"); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if err := m.CreateRoom("proyecto"); !errors.Is(err, state.ErrRoomExists) {
		t.Errorf("Expected ErrRoomExists for duplicate room, got %v", err)
	}
	if err := m.CreateRoom("two words"); !errors.Is(err, state.ErrRoomName) {
		t.Errorf("Expected ErrRoomName for whitespace name, got %v", err)
	}
	if err := m.CreateRoom(""); !errors.Is(err, state.ErrRoomName) {
		t.Errorf("Expected ErrRoomName for empty name, got %v", err)
	}
}

func TestRoomMembership(t *testing.T) {
	m := newTestManager()
	connA, connB := newTransportConn(t), newTransportConn(t)
	m.RegisterUser("ana", connA)
	m.RegisterUser("beto", connB)

	// Join
	if err := m.Join("general", "ana"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := m.Join("general", "beto"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := m.Join("nada", "ana"); !errors.Is(err, state.ErrNoSuchRoom) {
		t.Errorf("Expected ErrNoSuchRoom, got %v", err)
	}

	// Re-join is a membership no-op
	if err := m.Join("general", "ana"); err != nil {
		t.Fatalf("Re-join failed: %v", err)
	}
	members, err := m.RoomMembers("general")
	if err != nil {
		t.Fatalf("RoomMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(members))
	}

	// Leave
	m.Leave("general", "ana")
	members, _ = m.RoomMembers("general")
	if len(members) != 1 || members[0] != "beto" {
		t.Fatalf("Expected only beto after leave, got %v", members)
	}

	// Rooms persist even when empty
	m.Leave("general", "beto")
	if !m.FindRoom("general") {
		t.Error("Room was deleted after the last member left")
	}
}

func TestRemoveUserDropsAllMemberships(t *testing.T) {
	m := newTestManager()
	conn := newTransportConn(t)
	m.RegisterUser("ana", conn)
	m.Join("general", "ana")
	m.Join("redes", "ana")

	m.RemoveUser("ana")

	for _, room := range testRooms {
		members, err := m.RoomMembers(room)
		if err != nil {
			t.Fatalf("RoomMembers(%s) failed: %v", room, err)
		}
		if len(members) != 0 {
			t.Errorf("Room %s still lists removed user: %v", room, members)
		}
	}
}

func TestSnapshotsAreSorted(t *testing.T) {
	m := newTestManager()
	for _, name := range []string{"zoe", "ana", "mia"} {
		m.RegisterUser(name, newTransportConn(t))
	}

	ids := m.AllUserIDs()
	for i := 1; i < len(ids); i++ {
		if ids[i-1] > ids[i] {
			t.Fatalf("AllUserIDs not sorted: %v", ids)
		}
	}
	names := m.AllRoomNames()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("AllRoomNames not sorted: %v", names)
		}
	}
}

func TestConcurrentMembershipChurn(t *testing.T) {
	m := newTestManager()
	const users = 20

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "user" + strconv.Itoa(i)
			if _, err := m.RegisterUser(id, newTransportConn(t)); err != nil {
				t.Errorf("RegisterUser(%s) failed: %v", id, err)
				return
			}
			m.Join("general", id)
			m.RoomMembers("general")
			m.Leave("general", id)
			m.RemoveUser(id)
		}(i)
	}
	wg.Wait()

	members, _ := m.RoomMembers("general")
	if len(members) != 0 {
		t.Fatalf("Expected empty room after churn, got %v", members)
	}
	if got := len(m.AllUserIDs()); got != 0 {
		t.Fatalf("Expected empty registry after churn, got %d users", got)
	}
}
