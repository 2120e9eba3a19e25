package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ArturoParra/Practica3-Chat/internal/broadcast"
	"github.com/ArturoParra/Practica3-Chat/internal/command"
	"github.com/ArturoParra/Practica3-Chat/internal/transfer"
	"github.com/ArturoParra/Practica3-Chat/pkg/config"
	"github.com/ArturoParra/Practica3-Chat/pkg/state"
	"github.com/ArturoParra/Practica3-Chat/pkg/state/statemanager"
	"golang.org/x/sync/errgroup"
)

// DefaultRooms exist before any client connects; the first one is where
// every new session lands.
var DefaultRooms = []string{"general", "desarrollo", "redes", "alumnos"}

type App struct {
	logger    *slog.Logger
	config    *config.Config
	state     state.Manager
	bcast     *broadcast.Broadcaster
	transfers *transfer.Coordinator
	commands  *command.Registry

	wg      sync.WaitGroup
	gateway *http.Server

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	stateManager := statemanager.NewInMemoryManager(logger, DefaultRooms)
	bcast := broadcast.New(logger, stateManager)
	transfers := transfer.NewCoordinator(logger, cfg.Transfer, stateManager, bcast)

	app := &App{
		logger:    logger,
		config:    cfg,
		state:     stateManager,
		bcast:     bcast,
		transfers: transfers,
		ctx:       rootCtx,
	}

	deps := &command.Deps{
		Logger:    logger,
		State:     stateManager,
		Broadcast: bcast,
		Transfers: transfers,
	}
	app.commands = command.NewRegistry(logger, deps)
	app.commands.RegisterCore()

	if cfg.Gateway.Address != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", app.gatewayHandler)
		app.gateway = &http.Server{
			Addr:    cfg.Gateway.Address,
			Handler: mux,
			BaseContext: func(net.Listener) context.Context {
				return rootCtx
			},
		}
	}

	return app
}

// Run binds both listeners (and the optional gateway) and serves until the
// root context is cancelled. A bind failure is fatal: no connection is
// accepted on either channel.
func (a *App) Run() error {
	controlLn, err := net.Listen("tcp", a.config.Server.ControlAddr())
	if err != nil {
		return err
	}
	dataLn, err := net.Listen("tcp", a.config.Server.DataAddr())
	if err != nil {
		controlLn.Close()
		return err
	}
	a.logger.Info("server listening",
		slog.String("control", controlLn.Addr().String()),
		slog.String("data", dataLn.Addr().String()),
	)

	g, ctx := errgroup.WithContext(a.ctx)

	g.Go(func() error {
		return a.acceptLoop(controlLn, func(conn net.Conn) {
			a.handleControlConn(conn)
		})
	})
	g.Go(func() error {
		return a.acceptLoop(dataLn, a.transfers.HandleConn)
	})
	if a.gateway != nil {
		g.Go(func() error {
			a.logger.Info("gateway listening", slog.String("addr", a.gateway.Addr))
			if err := a.gateway.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		controlLn.Close()
		dataLn.Close()
		if a.gateway != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.gateway.Shutdown(shutdownCtx)
		}
		return nil
	})

	err = g.Wait()
	a.shutdownSessions()
	a.transfers.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("server shut down gracefully")
	return nil
}

func (a *App) acceptLoop(ln net.Listener, handle func(net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go handle(conn)
	}
}

// shutdownSessions closes every live session and waits for their control
// loops to finish cleanup.
func (a *App) shutdownSessions() {
	for _, id := range a.state.AllUserIDs() {
		if sess, ok := a.state.LookupUser(id); ok {
			sess.Transport.Close(errors.New("server shutting down"))
		}
	}
	a.wg.Wait()
}
