package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conserv/internal/api"
	"conserv/internal/chat"
	"conserv/internal/commands"
	"conserv/internal/config"
	"conserv/internal/guard"
	"conserv/internal/http"
	"conserv/internal/orders"
	"conserv/internal/remote"
	"conserv/internal/session"
	"conserv/internal/storage"
	"conserv/internal/stubs"
	"conserv/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("conserv", flag.ContinueOnError)
	status := flags.Bool("status", false, "Print the session of a running bridge and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if *status {
		return commands.Status(cfg, os.Stdout)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.StateDB)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	var client remote.Client
	if cfg.APIBaseURL == config.StubBackend {
		log.Println("Using the in-memory marketplace backend")
		client = stubs.NewBackend(ctx, bbStorage, stubs.Options{ReplyDelay: cfg.ReplyDelay})
	} else {
		client = remote.NewHTTPClient(cfg.APIBaseURL, cfg.RequestTimeout, bbStorage)
	}

	sessionStore := session.NewStore(client, bbStorage)
	orderCache := orders.New(client, guard.Gate(sessionStore, ""))

	var responder chat.Responder = chat.SimulatedResponder{Delay: cfg.ReplyDelay}
	if cfg.Responder == config.ResponderRemote {
		responder = chat.RemoteResponder{API: client}
	}

	var hub *ws.Hub
	engine := chat.NewEngine(ctx, chat.Config{
		Remote:        client,
		Responder:     responder,
		TypingTimeout: cfg.TypingTimeout,
		HistoryTTL:    cfg.HistoryTTL,
		MaxMessages:   cfg.MaxMessages,
		SelfID: func() string {
			if u := sessionStore.Snapshot().User; u != nil {
				return u.ID
			}
			return ""
		},
		OnEvent: func(ev chat.Event) { hub.PublishChat(ev) },
	})
	hub = ws.NewHub(engine)

	orderCache.OnChange(hub.PublishOrders)
	sessionStore.OnChange(func(st session.State) {
		hub.PublishSession(st)
		// Signed out: nothing fetched for the previous user may stay visible.
		if !st.IsAuthenticated && !st.IsLoading {
			orderCache.Reset()
			engine.Reset()
		}
	})

	if st, err := sessionStore.Restore(); err != nil {
		slog.Warn("failed to restore session", "error", err)
	} else if st.IsAuthenticated {
		go func() {
			if _, err := sessionStore.FetchProfile(ctx); err != nil {
				slog.Warn("failed to load profile", "error", err)
			}
		}()
	}

	apiHandlers := api.New(sessionStore, orderCache, engine, cfg.PageLimit)
	bridge := http.NewBridgeServer(apiHandlers, ws.NewServer(hub, sessionStore), cfg.BridgeAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Bridge Server
	g.Go(func() error {
		err := bridge.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down bridge...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := bridge.Shutdown(shutdownCtx); err != nil {
			log.Printf("Bridge shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
