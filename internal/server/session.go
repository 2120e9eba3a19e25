package server

import (
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/ArturoParra/Practica3-Chat/pkg/state"
	"github.com/ArturoParra/Practica3-Chat/pkg/transport"
)

// handleControlConn runs one control session from accept to teardown. It
// owns the connection's whole lifecycle; any exit path deregisters the
// user before returning.
func (a *App) handleControlConn(nc net.Conn) {
	conn := transport.NewConnection(a.ctx, &a.wg, nc, transport.ConnectionConfig{
		SendBuffer:   a.config.Transport.SendBuffer,
		WriteTimeout: a.config.Transport.WriteTimeout,
	}, nil, a.logger)
	conn.Run()

	sess, err := a.negotiateUser(conn)
	if err != nil {
		conn.Close(err)
		return
	}
	logger := a.logger.With(
		slog.String("userID", sess.User),
		slog.String("remoteAddr", conn.RemoteAddr()),
	)

	// Default room placement, then let everyone know the population and
	// the room membership changed.
	defaultRoom := DefaultRooms[0]
	if err := a.state.Join(defaultRoom, sess.User); err != nil {
		logger.Error("default room missing", slog.Any("error", err))
		a.state.RemoveUser(sess.User)
		conn.Close(err)
		return
	}
	sess.CurrentRoom = defaultRoom
	conn.Send("Te has unido a la sala: " + defaultRoom)
	a.bcast.ToRoom(defaultRoom, sess.User+" se ha unido a la sala.", "SERVER")
	a.bcast.ToAllExcept(sess.User, "El usuario "+sess.User+" se ha conectado.")
	a.bcast.PushLists()
	logger.Info("user connection fully established")

	var readErr error
	for {
		line, err := conn.ReadLine()
		if err != nil {
			readErr = err
			break
		}
		a.commands.Dispatch(sess, line)
	}

	// Teardown: close the transport first so no broadcast can reach the
	// session once its removal begins, then drop it from every shared
	// structure before announcing the disconnect.
	conn.Close(readErr)
	a.state.RemoveUser(sess.User)
	a.bcast.ToAll("El usuario " + sess.User + " se ha desconectado.")
	a.bcast.PushLists()
	logger.Info("user disconnected", slog.Any("reason", readErr))
}

// negotiateUser loops the name prompt until the client picks a name the
// registry admits.
func (a *App) negotiateUser(conn *transport.Connection) (*state.Session, error) {
	conn.Send("Ingresa tu nombre de usuario:")
	for {
		name, err := conn.ReadLine()
		if err != nil {
			return nil, err
		}
		name = strings.TrimSpace(name)

		sess, err := a.state.RegisterUser(name, conn)
		switch {
		case errors.Is(err, state.ErrUserTaken):
			conn.Send("El nombre de usuario ya existe. Ingresa otro nombre:")
		case errors.Is(err, state.ErrUserName):
			conn.Send("Nombre de usuario inválido. Ingresa otro nombre:")
		case err != nil:
			return nil, err
		default:
			return sess, nil
		}
	}
}
