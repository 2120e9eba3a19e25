// Package command dispatches control-channel lines. Each line is either a
// slash command resolved through the registry or free text broadcast to
// the session's current room.
package command

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/ArturoParra/Practica3-Chat/internal/broadcast"
	"github.com/ArturoParra/Practica3-Chat/internal/transfer"
	"github.com/ArturoParra/Practica3-Chat/pkg/state"
)

// Deps are the shared structures handlers operate on. They are injected at
// construction, never reached through globals.
type Deps struct {
	Logger    *slog.Logger
	State     state.Manager
	Broadcast *broadcast.Broadcaster
	Transfers *transfer.Coordinator
}

type HandlerFunc func(sess *state.Session, args string, d *Deps)

type Registry struct {
	handlers map[string]HandlerFunc
	mu       sync.RWMutex

	deps   *Deps
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger, deps *Deps) *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		deps:     deps,
		logger:   logger.With(slog.String("component", "command_registry")),
	}
}

func (r *Registry) Register(prefix string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[prefix]; exists {
		panic("command handler already registered: " + prefix)
	}
	r.handlers[prefix] = fn
}

func (r *Registry) lookup(prefix string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[prefix]
	return fn, ok
}

// RegisterCore installs the protocol command set.
func (r *Registry) RegisterCore() {
	r.Register("/privado", handlePrivate)
	r.Register("/sala", handleSwitchRoom)
	r.Register("/crearsala", handleCreateRoom)
	r.Register("/salas", handleListRooms)
	r.Register("/usuarios", handleListUsers)
	r.Register("/ayuda", handleHelp)
	r.Register("/salir", handleLogout)
	r.Register("/archivo", handleAnnounceFile)
	r.logger.Info("registered core commands", slog.Int("count", len(r.handlers)))
}

// Dispatch routes one control line. A malformed or unknown command answers
// the offending session only; it never ends the loop.
func (r *Registry) Dispatch(sess *state.Session, line string) {
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "/") {
		name, rest, _ := strings.Cut(line, " ")
		fn, ok := r.lookup(name)
		if !ok {
			sess.Transport.Send("Comando desconocido: " + name + ". Escribe /ayuda para ver los comandos.")
			return
		}
		fn(sess, strings.TrimSpace(rest), r.deps)
		return
	}
	r.deps.Broadcast.ToRoom(sess.CurrentRoom, line, sess.User)
}
