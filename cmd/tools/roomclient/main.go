package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/cinema-room/backend/internal/config"
	"github.com/zhouzirui/cinema-room/backend/internal/logging"
	roommodel "github.com/zhouzirui/cinema-room/backend/internal/model/room"
	"github.com/zhouzirui/cinema-room/backend/internal/service/room"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	os.Exit(run())
}

// run 返回进程退出码，便于 defer 的清理在退出前执行。
func run() int {

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	roomID := flag.String("room", "", "房间 ID")
	token := flag.String("token", os.Getenv("CINEMA_TOKEN"), "Bearer 凭证，默认读取 CINEMA_TOKEN")
	url := flag.String("url", "", "实时通道地址，默认使用 CINEMA_SOCKET_URL")
	joinTimeout := flag.Duration("join-timeout", 15*time.Second, "等待入房的最长时间")
	flag.Parse()

	if *roomID == "" {
		flag.Usage()
		log.Print("请通过 -room 指定房间 ID")
		return 2
	}
	if *url != "" {
		os.Setenv("CINEMA_SOCKET_URL", *url)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("配置加载失败: %v", err)
		return 1
	}

	logger, err := logging.New(cfg.Log.Level, true)
	if err != nil {
		log.Printf("日志初始化失败: %v", err)
		return 1
	}
	defer logger.Sync()

	dialer := room.NewWebSocketDialer(cfg.Cinema.SocketURL, &room.WebSocketOptions{
		HandshakeTimeout: cfg.Cinema.HandshakeTimeout,
		ReadTimeout:      cfg.Cinema.ReadTimeout,
		WriteTimeout:     cfg.Cinema.WriteTimeout,
		PingInterval:     cfg.Cinema.PingInterval,
	}, logger.Named("transport"))

	joined := make(chan struct{}, 1)
	session, err := room.NewSession(*roomID, *token, dialer,
		room.WithLogger(logger.Named("session")),
		room.WithHistoryLimit(cfg.Cinema.HistoryLimit),
		room.WithHooks(room.Hooks{
			OnState: func(s roommodel.State) {
				fmt.Printf("* %s\n", s)
				if s == roommodel.StateJoined {
					joined <- struct{}{}
				}
			},
			OnMessage: printMessage,
			OnRoster:  printRoster,
		}),
	)
	if err != nil {
		log.Printf("创建会话失败: %v", err)
		return 1
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 会话本身不会超时，由调用方决定等待多久
	select {
	case <-joined:
	case <-session.Done():
		log.Printf("连接失败: %v", session.Err())
		return 1
	case <-time.After(*joinTimeout):
		log.Printf("等待入房超时 (%s)", *joinTimeout)
		return 1
	case <-ctx.Done():
		return 0
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return 0
		case <-session.Done():
			log.Printf("连接已断开: %v", session.Err())
			return 1
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			if text := strings.TrimSpace(line); text != "" {
				session.SendMessage(text)
			}
		}
	}
}

func printMessage(m roommodel.Message) {
	author := m.Author
	if m.Role != "" {
		author = fmt.Sprintf("%s (%s)", m.Author, m.Role)
	}
	fmt.Printf("[%s] %s: %s\n", m.SentAt.Local().Format("15:04:05"), author, m.Text)
}

func printRoster(participants []roommodel.Participant) {
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		names = append(names, p.DisplayName)
	}
	fmt.Printf("* 在线 %d 人: %s\n", len(participants), strings.Join(names, ", "))
}
