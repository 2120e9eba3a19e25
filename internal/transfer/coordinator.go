// Package transfer coordinates out-of-band file transfers. A transfer is
// announced on the control channel, staged to disk when the sender's data
// connection uploads it, and forwarded to every intended receiver that
// connects afterwards. Announcements and data connections are correlated
// only by the composite (sender, target) key.
package transfer

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ArturoParra/Practica3-Chat/internal/broadcast"
	"github.com/ArturoParra/Practica3-Chat/pkg/config"
	"github.com/ArturoParra/Practica3-Chat/pkg/state"
	"github.com/google/uuid"
)

var (
	ErrBadSize         = errors.New("declared size must be positive")
	ErrTooLarge        = errors.New("declared size exceeds the transfer ceiling")
	ErrUnknownTarget   = errors.New("target is not a room or a connected user")
	ErrTransferPending = errors.New("a transfer for this sender and target is already pending")
)

// pending is one announced transfer. Fields other than the channels are
// guarded by the coordinator mutex.
type pending struct {
	key      string
	sender   string
	target   string
	toRoom   bool
	fileName string
	size     int64

	token     uuid.UUID // names the staged artifact on disk
	path      string    // non-empty once staging completed
	uploading bool      // a sender connection is currently staging
	staged    chan struct{}
	expire    *time.Timer
	createdAt time.Time

	// receivers still expected to fetch the staged bytes; populated when
	// staging completes.
	receivers map[string]struct{}
	inflight  int
}

type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*pending

	state  state.Manager
	bcast  *broadcast.Broadcaster
	cfg    config.TransferConfig
	logger *slog.Logger
}

func NewCoordinator(logger *slog.Logger, cfg config.TransferConfig, st state.Manager, bcast *broadcast.Broadcaster) *Coordinator {
	return &Coordinator{
		pending: make(map[string]*pending),
		state:   st,
		bcast:   bcast,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "transfer_coordinator")),
	}
}

func transferKey(sender, target string) string {
	return sender + "_" + target
}

// Announce validates and records a transfer declared on the control
// channel. A second announcement reusing an in-flight key is rejected, not
// silently overwritten.
func (c *Coordinator) Announce(sender, target, fileName string, size int64) error {
	if size <= 0 {
		return ErrBadSize
	}
	if c.cfg.MaxFileBytes > 0 && size > c.cfg.MaxFileBytes {
		return ErrTooLarge
	}
	toRoom := c.state.FindRoom(target)
	if !toRoom {
		if _, ok := c.state.LookupUser(target); !ok {
			return ErrUnknownTarget
		}
	}

	key := transferKey(sender, target)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[key]; exists {
		return ErrTransferPending
	}
	p := &pending{
		key:       key,
		sender:    sender,
		target:    target,
		toRoom:    toRoom,
		fileName:  fileName,
		size:      size,
		token:     uuid.New(),
		staged:    make(chan struct{}),
		createdAt: time.Now(),
	}
	p.expire = time.AfterFunc(c.cfg.PendingTTL, func() {
		c.expireEntry(key, p.token)
	})
	c.pending[key] = p

	c.logger.Info("transfer announced",
		slog.String("sender", sender),
		slog.String("target", target),
		slog.String("file", fileName),
		slog.Int64("size", size),
	)
	return nil
}

// Pending reports whether an entry exists for the composite key.
func (c *Coordinator) Pending(sender, target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[transferKey(sender, target)]
	return ok
}

// expireEntry evicts an unclaimed entry. The token guards against removing
// a newer announcement that reused the key.
func (c *Coordinator) expireEntry(key string, token uuid.UUID) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok || p.token != token {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	path := p.path
	c.mu.Unlock()

	if path != "" {
		os.Remove(path)
	}
	c.logger.Warn("pending transfer expired unclaimed",
		slog.String("sender", p.sender),
		slog.String("target", p.target),
		slog.String("file", p.fileName),
	)
}

// remove drops the entry if it is still the table's current one for its
// key, stopping the expiry timer.
func (c *Coordinator) remove(p *pending) {
	c.mu.Lock()
	if cur, ok := c.pending[p.key]; ok && cur == p {
		delete(c.pending, p.key)
		p.expire.Stop()
	}
	c.mu.Unlock()
}

func (c *Coordinator) stagingPath(token uuid.UUID) string {
	return filepath.Join(c.cfg.StagingDir, "chatsala-"+token.String())
}

// Shutdown discards every pending entry and staged artifact.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	entries := make([]*pending, 0, len(c.pending))
	for _, p := range c.pending {
		entries = append(entries, p)
	}
	c.pending = make(map[string]*pending)
	c.mu.Unlock()

	for _, p := range entries {
		p.expire.Stop()
		if p.path != "" {
			os.Remove(p.path)
		}
	}
}
