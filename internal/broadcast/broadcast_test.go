package broadcast_test

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ArturoParra/Practica3-Chat/internal/broadcast"
	"github.com/ArturoParra/Practica3-Chat/pkg/state/statemanager"
	"github.com/ArturoParra/Practica3-Chat/pkg/transport"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (c *testClient) readLine(t *testing.T) string {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading pushed line: %v", err)
	}
	return strings.TrimRight(line, "\n")
}

func (c *testClient) expectSilence(t *testing.T) {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if line, err := c.reader.ReadString('\n'); err == nil {
		t.Fatalf("expected no delivery, got %q", line)
	}
}

func setup(t *testing.T) (*statemanager.InMemoryManager, *broadcast.Broadcaster) {
	t.Helper()
	m := statemanager.NewInMemoryManager(newTestLogger(), []string{"general", "redes"})
	return m, broadcast.New(newTestLogger(), m)
}

func addUser(t *testing.T, m *statemanager.InMemoryManager, name string) *testClient {
	t.Helper()
	client, srv := net.Pipe()
	t.Cleanup(func() { client.Close() })

	var wg sync.WaitGroup
	conn := transport.NewConnection(context.Background(), &wg, srv, transport.ConnectionConfig{}, nil, newTestLogger())
	conn.Run()
	t.Cleanup(func() { conn.Close(nil) })

	if _, err := m.RegisterUser(name, conn); err != nil {
		t.Fatalf("RegisterUser(%s) failed: %v", name, err)
	}
	return &testClient{conn: client, reader: bufio.NewReader(client)}
}

func TestToRoomIncludesSender(t *testing.T) {
	m, b := setup(t)
	ana := addUser(t, m, "ana")
	beto := addUser(t, m, "beto")
	m.Join("general", "ana")
	m.Join("general", "beto")

	b.ToRoom("general", "hola a todos", "ana")

	want := "[general] ana: hola a todos"
	if got := ana.readLine(t); got != want {
		t.Errorf("Sender copy mismatch: got %q want %q", got, want)
	}
	if got := beto.readLine(t); got != want {
		t.Errorf("Member copy mismatch: got %q want %q", got, want)
	}
}

func TestToRoomExcludesNonMembers(t *testing.T) {
	m, b := setup(t)
	ana := addUser(t, m, "ana")
	celia := addUser(t, m, "celia")
	m.Join("general", "ana")
	m.Join("redes", "celia")

	b.ToRoom("general", "hola", "ana")

	ana.readLine(t)
	celia.expectSilence(t)
}

func TestToUserEcho(t *testing.T) {
	m, b := setup(t)
	ana := addUser(t, m, "ana")
	beto := addUser(t, m, "beto")

	b.ToUser("beto", "hola", "ana")

	if got, want := beto.readLine(t), "[Privado con ana] ana: hola"; got != want {
		t.Errorf("Recipient line mismatch: got %q want %q", got, want)
	}
	if got, want := ana.readLine(t), "[Privado con beto] ana: hola"; got != want {
		t.Errorf("Sender echo mismatch: got %q want %q", got, want)
	}
}

func TestToUserOfflineRecipient(t *testing.T) {
	m, b := setup(t)
	ana := addUser(t, m, "ana")

	b.ToUser("nadie", "hola", "ana")

	if got, want := ana.readLine(t), "Error: El usuario nadie no está conectado."; got != want {
		t.Errorf("Offline report mismatch: got %q want %q", got, want)
	}
}

func TestPushListsFormat(t *testing.T) {
	m, b := setup(t)
	ana := addUser(t, m, "ana")
	beto := addUser(t, m, "beto")

	b.PushLists()

	for _, c := range []*testClient{ana, beto} {
		if got, want := c.readLine(t), "SALAS:general|redes"; got != want {
			t.Errorf("Room list mismatch: got %q want %q", got, want)
		}
		if got, want := c.readLine(t), "USUARIOS:ana|beto"; got != want {
			t.Errorf("User list mismatch: got %q want %q", got, want)
		}
	}
}

func TestFileNoticeOnlyListedUsers(t *testing.T) {
	m, b := setup(t)
	ana := addUser(t, m, "ana")
	beto := addUser(t, m, "beto")

	b.FileNotice([]string{"beto"}, "ana", "informe.pdf", 2048)

	if got, want := beto.readLine(t), "ARCHIVO:ana:informe.pdf:2048"; got != want {
		t.Errorf("File notice mismatch: got %q want %q", got, want)
	}
	ana.expectSilence(t)
}

func TestBroadcastAfterRemovalSkipsUser(t *testing.T) {
	m, b := setup(t)
	ana := addUser(t, m, "ana")
	beto := addUser(t, m, "beto")
	m.Join("general", "ana")
	m.Join("general", "beto")

	// Removal begins before the broadcast: the snapshot taken by ToRoom
	// must not include the removed user.
	m.RemoveUser("beto")
	b.ToRoom("general", "hola", "ana")

	ana.readLine(t)
	beto.expectSilence(t)
}
