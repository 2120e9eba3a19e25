package transport

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// callback executed when the connection is fully closed.
type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

// Connection represents a single line-oriented TCP connection. Reads are
// synchronous because the control protocol is request/response during the
// name handshake; writes go through a buffered channel drained by a single
// write pump, so Send is safe for concurrent use and lines leave in
// arrival order.
type Connection struct {
	id     uuid.UUID
	conn   net.Conn
	reader *bufio.Reader
	config ConnectionConfig
	send   chan string

	onClose OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn net.Conn, config ConnectionConfig, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}

	return &Connection{
		id:      id,
		conn:    conn,
		reader:  bufio.NewReader(conn),
		config:  config,
		send:    make(chan string, config.SendBuffer),
		onClose: onClose,
		done:    make(chan struct{}),
		wg:      wg,
		ctx:     connCtx,
		cancel:  cancel,
		logger:  logger.With(slog.String("connID", id.String())),
	}
}

func (c *Connection) Run() {
	c.wg.Add(1)
	go c.writePump()
}

// writePump pumps lines from the send channel onto the socket.
func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case line := <-c.send:
			if c.config.WriteTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			}
			if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// ReadLine blocks until the next complete line arrives. Closing the
// connection unblocks it with an error.
func (c *Connection) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Send queues a line for delivery. It is safe for concurrent use; sends
// after the connection begins closing are dropped.
func (c *Connection) Send(line string) {
	select {
	case c.send <- line:
	case <-c.ctx.Done():
		c.logger.Debug("dropped send on closed connection")
	}
}

// Close shuts the connection down exactly once and fires the close handler.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.logger.Debug("transport connection closing", slog.Any("reason", err))
		c.cancel() // stops the write pump and makes Send a no-op
		c.conn.Close()
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// Done returns a channel that is closed when the connection is fully
// terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
