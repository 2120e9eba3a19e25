package transfer

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"strings"
	"time"
)

// recvMarker separates the two user ids on a receiver's identification
// line ("<receiver>|<sender>"). The character is already reserved by the
// protocol as the list-push separator, so it cannot appear in a user name.
const recvMarker = "|"

// HandleConn serves one accepted data connection: it reads the single
// identification line and runs either the sender upload or the receiver
// download. Errors abort this connection only.
func (c *Coordinator) HandleConn(conn net.Conn) {
	defer conn.Close()

	ic := &idleConn{Conn: conn, timeout: c.cfg.IdleTimeout}
	r := bufio.NewReader(ic)

	line, err := r.ReadString('\n')
	if err != nil {
		c.logger.Warn("data connection closed before identification", slog.Any("error", err))
		return
	}
	line = strings.TrimRight(line, "\r\n")

	if receiver, sender, ok := strings.Cut(line, recvMarker); ok {
		c.serveReceiver(ic, receiver, sender)
		return
	}
	c.stageUpload(r, line)
}

// stageUpload reads exactly the declared byte count from the sender into a
// staging file, then publishes the availability notice. The upload
// completes fully before any receiver copy begins.
func (c *Coordinator) stageUpload(r *bufio.Reader, sender string) {
	c.mu.Lock()
	var p *pending
	for _, cand := range c.pending {
		if cand.sender != sender || cand.path != "" || cand.uploading {
			continue
		}
		if p == nil || cand.createdAt.Before(p.createdAt) {
			p = cand
		}
	}
	if p == nil {
		c.mu.Unlock()
		c.logger.Warn("sender data connection without a matching announcement", slog.String("sender", sender))
		return
	}
	p.uploading = true
	c.mu.Unlock()

	path := c.stagingPath(p.token)
	f, err := os.Create(path)
	if err != nil {
		c.logger.Error("cannot create staging file", slog.String("path", path), slog.Any("error", err))
		c.abortStaging(p, path)
		return
	}

	_, err = io.CopyN(f, r, p.size)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// Short reads, idle timeouts and disk errors all land here; the
		// partial artifact is never kept.
		c.logger.Warn("staging aborted",
			slog.String("sender", sender),
			slog.String("file", p.fileName),
			slog.Any("error", err),
		)
		c.abortStaging(p, path)
		return
	}

	// Snapshot the receivers the staged bytes are owed to.
	c.mu.Lock()
	if cur, ok := c.pending[p.key]; !ok || cur != p {
		// expired while the upload was running
		c.mu.Unlock()
		os.Remove(path)
		return
	}
	receivers := []string{p.target}
	if p.toRoom {
		receivers = nil
		if members, err := c.state.RoomMembers(p.target); err == nil {
			for _, id := range members {
				if id != p.sender {
					receivers = append(receivers, id)
				}
			}
		}
	}
	if len(receivers) == 0 {
		delete(c.pending, p.key)
		p.expire.Stop()
		c.mu.Unlock()
		os.Remove(path)
		c.logger.Warn("staged transfer has no receivers", slog.String("roomID", p.target))
		return
	}
	p.path = path
	p.receivers = make(map[string]struct{}, len(receivers))
	for _, id := range receivers {
		p.receivers[id] = struct{}{}
	}
	// The claim window restarts now that the payload is available.
	p.expire.Reset(c.cfg.PendingTTL)
	close(p.staged)
	c.mu.Unlock()

	c.bcast.FileNotice(receivers, p.sender, p.fileName, p.size)
	c.logger.Info("transfer staged",
		slog.String("sender", p.sender),
		slog.String("target", p.target),
		slog.String("file", p.fileName),
		slog.Int("receivers", len(receivers)),
	)
}

func (c *Coordinator) abortStaging(p *pending, path string) {
	c.remove(p)
	os.Remove(path)
	c.bcast.System(p.sender, "Error: la transferencia de "+p.fileName+" ha fallado.")
}

// serveReceiver streams the staged payload to one receiver, waiting up to
// the claim window for the sender's upload to finish.
func (c *Coordinator) serveReceiver(conn net.Conn, receiver, sender string) {
	p := c.findForReceiver(sender, receiver)
	if p == nil {
		c.logger.Warn("receiver data connection without a matching transfer",
			slog.String("receiver", receiver),
			slog.String("sender", sender),
		)
		return
	}

	select {
	case <-p.staged:
	case <-time.After(c.cfg.ClaimWait):
		c.logger.Warn("receiver gave up waiting for staging",
			slog.String("receiver", receiver),
			slog.String("file", p.fileName),
		)
		return
	}

	// Claim the delivery slot.
	c.mu.Lock()
	if _, expected := p.receivers[receiver]; !expected {
		c.mu.Unlock()
		c.logger.Warn("receiver not entitled to transfer", slog.String("receiver", receiver))
		return
	}
	delete(p.receivers, receiver)
	p.inflight++
	path := p.path
	c.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		c.logger.Error("cannot open staged artifact", slog.String("path", path), slog.Any("error", err))
		c.finishServe(p, receiver, false)
		return
	}
	_, err = io.Copy(conn, f)
	f.Close()
	if err != nil {
		c.logger.Warn("forwarding aborted",
			slog.String("receiver", receiver),
			slog.String("file", p.fileName),
			slog.Any("error", err),
		)
	}
	c.finishServe(p, receiver, err == nil)
}

// finishServe settles a delivery attempt. A failed receiver regains its
// claim; once every receiver has fetched, the entry and artifact go away.
func (c *Coordinator) finishServe(p *pending, receiver string, ok bool) {
	c.mu.Lock()
	p.inflight--
	if !ok {
		p.receivers[receiver] = struct{}{}
	}
	done := ok && len(p.receivers) == 0 && p.inflight == 0
	if done {
		if cur, present := c.pending[p.key]; present && cur == p {
			delete(c.pending, p.key)
		}
		p.expire.Stop()
	}
	path := p.path
	c.mu.Unlock()

	if done {
		os.Remove(path)
		c.logger.Info("transfer complete",
			slog.String("sender", p.sender),
			slog.String("target", p.target),
			slog.String("file", p.fileName),
		)
	}
}

// findForReceiver resolves the entry a receiver connection refers to:
// first the exact user-target key, then the oldest room-target entry from
// that sender the receiver belongs to.
func (c *Coordinator) findForReceiver(sender, receiver string) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[transferKey(sender, receiver)]; ok {
		return p
	}
	var best *pending
	for _, p := range c.pending {
		if p.sender != sender || !p.toRoom {
			continue
		}
		if p.path != "" {
			// staged: the snapshot taken at staging time governs
			if _, ok := p.receivers[receiver]; !ok {
				continue
			}
		} else {
			members, err := c.state.RoomMembers(p.target)
			if err != nil || !slices.Contains(members, receiver) {
				continue
			}
		}
		if best == nil || p.createdAt.Before(best.createdAt) {
			best = p
		}
	}
	return best
}

// idleConn arms a fresh deadline before every read and write so a stalled
// peer cannot hold a data connection open indefinitely.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Write(p)
}
