// ABOUTME: Entry point for the federation coordinator
// ABOUTME: Subcommands: serve, init, keygen, health

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/nanofed/coordinator/internal/auth"
	"github.com/nanofed/coordinator/internal/config"
	"github.com/nanofed/coordinator/internal/enroll"
	"github.com/nanofed/coordinator/internal/httpapi"
	"github.com/nanofed/coordinator/internal/ratelimit"
	"github.com/nanofed/coordinator/internal/store"
	"github.com/nanofed/coordinator/internal/token"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                          _ _             _
  ___ ___   ___  _ __ __| (_)_ __   __ _| |_ ___  _ __
 / __/ _ \ / _ \| '__/ _' | | '_ \ / _' | __/ _ \| '__|
| (_| (_) | (_) | | | (_| | | | | | (_| | || (_) | |
 \___\___/ \___/|_|  \__,_|_|_| |_|\__,_|\__\___/|_|
`

// getConfigPath returns the path to the coordinator config file.
// Priority: COORDINATOR_CONFIG env var > XDG_CONFIG_HOME/nanofed/coordinator.yaml > ~/.config/nanofed/coordinator.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COORDINATOR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "coordinator.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "nanofed", "coordinator.yaml")
}

// getDataPath returns the path to the coordinator data directory.
// Priority: XDG_DATA_HOME/nanofed > ~/.local/share/nanofed
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "nanofed")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coordinator <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the coordinator server")
		fmt.Println("  init     Create a config file with a fresh signing secret")
		fmt.Println("  keygen   Generate an Ed25519 agent keypair (--api-key for an operator key)")
		fmt.Println("  health   Check coordinator health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "keygen":
		err = runKeygen()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting coordinator",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	jwt := auth.NewJWTManager([]byte(cfg.Auth.JWTSecret))
	tokens := token.New(st, jwt, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	enrollment := enroll.New(st, tokens, cfg.Auth.ChallengeTTL)

	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests, cfg.RateLimit.Exempt)
	defer limiter.Close()

	srv := httpapi.New(httpapi.Options{
		Addr:         cfg.Server.HTTPAddr,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Store:        st,
		Enroll:       enrollment,
		Tokens:       tokens,
		JWT:          jwt,
		Keys:         auth.NewKeyGate(cfg.Admin.APIKeys),
		Limiter:      limiter,
	})

	return srv.Run(ctx)
}

// runInit creates a config file with a random signing secret. It refuses to
// overwrite an existing file.
func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "coordinator.db")

	green := color.New(color.FgGreen)

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# coordinator configuration
# Generated by coordinator init

server:
  http_addr: "localhost:8420"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  access_ttl: "15m"
  refresh_ttl: "720h"
  challenge_ttl: "5m"

ratelimit:
  window: "60s"
  max_requests: 100

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println()
	fmt.Println("Add operator keys under admin.api_keys to enable the admin API.")
	return nil
}

// runKeygen generates an Ed25519 keypair an agent can use for enrollment,
// or with --api-key a random operator key for the admin.api_keys list.
// The public key is printed in the hex form the enrollment API accepts.
func runKeygen() error {
	if len(os.Args) > 2 && os.Args[2] == "--api-key" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generating API key: %w", err)
		}
		fmt.Printf("api_key: %s\n", base64.URLEncoding.EncodeToString(raw))
		fmt.Println()
		fmt.Println("Add this under admin.api_keys in the config and send it in the")
		fmt.Println("X-API-Key header on admin requests.")
		return nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generating keypair: %w", err)
	}

	fmt.Printf("public_key:  %s\n", hex.EncodeToString(pub))
	fmt.Printf("private_key: %s\n", hex.EncodeToString(priv))
	fmt.Println()
	fmt.Println("Submit public_key with your enrollment request. Keep private_key secret;")
	fmt.Println("it signs the challenge nonce during verification.")
	return nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	url := fmt.Sprintf("http://%s/healthz", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs), then record attrs
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
