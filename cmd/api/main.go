package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/cinema-room/backend/internal/config"
	"github.com/zhouzirui/cinema-room/backend/internal/handler"
	"github.com/zhouzirui/cinema-room/backend/internal/logging"
	"github.com/zhouzirui/cinema-room/backend/internal/service/room"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger.Desugar())

	dialer := room.NewWebSocketDialer(cfg.Cinema.SocketURL, &room.WebSocketOptions{
		HandshakeTimeout: cfg.Cinema.HandshakeTimeout,
		ReadTimeout:      cfg.Cinema.ReadTimeout,
		WriteTimeout:     cfg.Cinema.WriteTimeout,
		PingInterval:     cfg.Cinema.PingInterval,
	}, logger.Named("transport"))

	manager := room.NewManager(dialer,
		room.WithLogger(logger.Named("session")),
		room.WithHistoryLimit(cfg.Cinema.HistoryLimit),
	)
	defer manager.CloseAll()

	router := handler.NewRouter(manager, logger.Named("http"))

	startServer(ctx, logger, cfg.Server, router)
}

func startServer(ctx context.Context, logger *zap.SugaredLogger, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		// SSE views end with the process context so Shutdown is not held open by them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	logger.Infow("cinema room bridge listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Fatalw("server error", "error", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
