package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Cinema CinemaConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	var cinema CinemaConfig
	if err := parseAndValidate(&cinema); err != nil {
		return nil, err
	}
	if err := cinema.validateScheme(); err != nil {
		return nil, err
	}

	var logCfg LogConfig
	if err := parseAndValidate(&logCfg); err != nil {
		return nil, err
	}

	return &Config{Server: server, Cinema: cinema, Log: logCfg}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// CinemaConfig 描述放映厅实时通道的连接配置。
type CinemaConfig struct {
	SocketURL        string        `env:"CINEMA_SOCKET_URL" validate:"required,url"`
	HandshakeTimeout time.Duration `env:"CINEMA_HANDSHAKE_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	ReadTimeout      time.Duration `env:"CINEMA_READ_TIMEOUT" envDefault:"60s" validate:"gt=0"`
	WriteTimeout     time.Duration `env:"CINEMA_WRITE_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	PingInterval     time.Duration `env:"CINEMA_PING_INTERVAL" envDefault:"25s" validate:"gte=0"`
	// 0 表示不限制消息历史长度
	HistoryLimit int `env:"CINEMA_HISTORY_LIMIT" envDefault:"0" validate:"gte=0"`
}

func (c CinemaConfig) validateScheme() error {
	u, err := url.Parse(c.SocketURL)
	if err != nil {
		return fmt.Errorf("invalid CINEMA_SOCKET_URL %q: %w", c.SocketURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid CINEMA_SOCKET_URL %q: scheme must be ws or wss", c.SocketURL)
	}
	return nil
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	Development bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

func parseAndValidate(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
