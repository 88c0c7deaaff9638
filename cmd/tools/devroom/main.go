package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/cinema-room/backend/internal/logging"
	"github.com/zhouzirui/cinema-room/backend/internal/roomtest"
)

// devroom 在本地启动一个内存房间服务，便于调试 api 与 roomclient。
func main() {
	addr := flag.String("addr", ":9000", "监听地址")
	flag.Parse()

	logger, err := logging.New("debug", true)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer logger.Sync()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Handle("/socket", roomtest.NewServer(roomtest.WithLogger(logger.Named("devroom"))))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infow("dev room listening", "url", "ws://localhost"+*addr+"/socket")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalw("server error", "error", err)
	}
}
