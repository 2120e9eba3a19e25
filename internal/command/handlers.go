package command

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/ArturoParra/Practica3-Chat/internal/transfer"
	"github.com/ArturoParra/Practica3-Chat/pkg/state"
)

const helpText = "Comandos disponibles:\n" +
	"/privado nombreUsuario mensaje - Iniciar o continuar chat privado\n" +
	"/sala nombreSala - Cambiar de sala\n" +
	"/crearsala nombreSala - Crear una nueva sala\n" +
	"/salas - Ver las salas disponibles\n" +
	"/usuarios - Ver los usuarios conectados\n" +
	"/archivo destino nombreArchivo tamaño - Anunciar el envío de un archivo\n" +
	"/salir - Desconectarse del servidor"

func handlePrivate(sess *state.Session, args string, d *Deps) {
	to, text, _ := strings.Cut(args, " ")
	text = strings.TrimSpace(text)
	if to == "" || text == "" {
		sess.Transport.Send("Formato incorrecto. Uso: /privado nombreUsuario mensaje")
		return
	}
	d.Broadcast.ToUser(to, text, sess.User)
}

func handleSwitchRoom(sess *state.Session, args string, d *Deps) {
	room := strings.TrimSpace(args)
	if room == "" {
		sess.Transport.Send("Formato incorrecto. Uso: /sala nombreSala")
		return
	}
	if !d.State.FindRoom(room) {
		sess.Transport.Send("La sala " + room + " no existe.")
		return
	}

	// Two separate halves, each with its own notification: leave the old
	// room, then join the new one.
	old := sess.CurrentRoom
	d.State.Leave(old, sess.User)
	sess.Transport.Send("Has salido de la sala: " + old)
	d.Broadcast.ToRoom(old, sess.User+" ha salido de la sala.", "SERVER")

	if err := d.State.Join(room, sess.User); err != nil {
		// The room existed a moment ago and rooms are never deleted.
		d.Logger.Error("join after switch failed", slog.String("roomID", room), slog.Any("error", err))
		return
	}
	sess.CurrentRoom = room
	sess.Transport.Send("Te has unido a la sala: " + room)
	d.Broadcast.ToRoom(room, sess.User+" se ha unido a la sala.", "SERVER")
	d.Broadcast.PushLists()
}

func handleCreateRoom(sess *state.Session, args string, d *Deps) {
	room := strings.TrimSpace(args)
	if room == "" {
		sess.Transport.Send("Formato incorrecto. Uso: /crearsala nombreSala")
		return
	}
	switch err := d.State.CreateRoom(room); {
	case errors.Is(err, state.ErrRoomName):
		sess.Transport.Send("El nombre de la sala no puede contener espacios.")
	case errors.Is(err, state.ErrRoomExists):
		sess.Transport.Send("La sala " + room + " ya existe.")
	case err != nil:
		sess.Transport.Send("No se pudo crear la sala " + room + ".")
	default:
		sess.Transport.Send("Has creado la sala: " + room)
		d.Broadcast.PushLists()
	}
}

func handleListRooms(sess *state.Session, _ string, d *Deps) {
	var b strings.Builder
	b.WriteString("Salas disponibles:")
	for _, name := range d.State.AllRoomNames() {
		members, err := d.State.RoomMembers(name)
		if err != nil {
			continue
		}
		b.WriteString("\n- " + name + " (" + strconv.Itoa(len(members)) + " usuarios)")
	}
	sess.Transport.Send(b.String())
}

func handleListUsers(sess *state.Session, _ string, d *Deps) {
	var b strings.Builder
	b.WriteString("Usuarios conectados:")
	for _, id := range d.State.AllUserIDs() {
		b.WriteString("\n- " + id)
	}
	sess.Transport.Send(b.String())
}

func handleHelp(sess *state.Session, _ string, _ *Deps) {
	sess.Transport.Send(helpText)
}

func handleLogout(sess *state.Session, _ string, _ *Deps) {
	// Same teardown path as an unexpected disconnect: closing the
	// transport unblocks the control loop, which runs the cleanup.
	sess.Transport.Close(nil)
}

func handleAnnounceFile(sess *state.Session, args string, d *Deps) {
	fields := splitArgs(args)
	if len(fields) != 3 {
		sess.Transport.Send("Formato incorrecto. Uso: /archivo destino nombreArchivo tamaño")
		return
	}
	target, fileName := fields[0], fields[1]
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		sess.Transport.Send("Formato incorrecto. Uso: /archivo destino nombreArchivo tamaño")
		return
	}

	switch err := d.Transfers.Announce(sess.User, target, fileName, size); {
	case errors.Is(err, transfer.ErrBadSize):
		sess.Transport.Send("Error: tamaño de archivo inválido.")
	case errors.Is(err, transfer.ErrTooLarge):
		sess.Transport.Send("Error: el archivo excede el tamaño máximo permitido.")
	case errors.Is(err, transfer.ErrUnknownTarget):
		sess.Transport.Send("Error: el destino " + target + " no existe.")
	case errors.Is(err, transfer.ErrTransferPending):
		sess.Transport.Send("Error: ya existe una transferencia pendiente para ese destino.")
	case err != nil:
		sess.Transport.Send("Error: no se pudo registrar la transferencia.")
	default:
		sess.Transport.Send("Transferencia registrada. Conéctate al canal de datos para enviar " + fileName + ".")
	}
}

// splitArgs fields the argument string, honoring double quotes so targets
// and file names containing spaces stay whole.
func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case unicode.IsSpace(r) && !inQuote:
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args
}
