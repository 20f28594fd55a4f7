// ABOUTME: Entry point for the hexlayer console server
// ABOUTME: Wires the store, auth, webhook, workflow, and chain proxy stack

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/hexlayer/console/internal/auth"
	"github.com/hexlayer/console/internal/chain"
	"github.com/hexlayer/console/internal/config"
	"github.com/hexlayer/console/internal/console"
	"github.com/hexlayer/console/internal/ratelimit"
	"github.com/hexlayer/console/internal/store"
	"github.com/hexlayer/console/internal/webhook"
	"github.com/hexlayer/console/internal/workflow"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _               _
| |__   _____  _| | __ _ _   _  ___ _ __
| '_ \ / _ \ \/ / |/ _' | | | |/ _ \ '__|
| | | |  __/>  <| | (_| | |_| |  __/ |
|_| |_|\___/_/\_\_|\__,_|\__, |\___|_|
                         |___/  console
`

// getConfigPath returns the path to the console config file.
// Priority: HEXLAYER_CONFIG env var > XDG_CONFIG_HOME/hexlayer/console.yaml > ~/.config/hexlayer/console.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HEXLAYER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "console.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "hexlayer", "console.yaml")
}

// getDataPath returns the path to the hexlayer data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "hexlayer")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: hexlayer-console <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                          Start the console server")
		fmt.Println("  init                           Create a new config file interactively")
		fmt.Println("  bootstrap --org SLUG --email E Create the first organization and owner")
		fmt.Println("  health                         Check console health")
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
	case "bootstrap":
		err = runBootstrap(ctx)
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
	if cfg.Chain.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Chain:    %s", cfg.Chain.UpstreamURL)
		if cfg.Chain.RedisAddr != "" {
			cyan.Printf(" [redis %s]", cfg.Chain.RedisAddr)
		}
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting hexlayer-console",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = s.Close() }()

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	bus := webhook.NewBus()
	dispatcher := webhook.NewDispatcher(s, webhook.DispatcherOptions{
		Workers:      cfg.Webhooks.Workers,
		MaxAttempts:  cfg.Webhooks.MaxAttempts,
		RetrySpacing: cfg.Webhooks.RetrySpacing,
		Timeout:      cfg.Webhooks.Timeout,
	})
	defer dispatcher.Close()

	engine := workflow.NewEngine(s, dispatcher)
	bus.Subscribe(dispatcher.Publish)
	bus.Subscribe(engine.Handle)
	defer engine.Wait()

	var chainProxy http.Handler
	if cfg.Chain.Enabled {
		limiter, cleanup, err := buildLimiter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("building rate limiter: %w", err)
		}
		defer cleanup()
		chainProxy = chain.NewProxy(cfg.Chain.UpstreamURL, cfg.Chain.RequestTimeout, limiter, s)
	}

	srv := console.New(console.Options{
		Store:      s,
		Verifier:   verifier,
		Bus:        bus,
		Dispatcher: dispatcher,
		Engine:     engine,
		ChainProxy: chainProxy,
		Config:     cfg,
	})
	defer srv.Close()

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.Handler())
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildLimiter assembles the chain proxy limiter: a per-org sliding window
// (Redis-backed when configured) behind a burst guard.
func buildLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, func(), error) {
	var window ratelimit.Limiter
	cleanup := func() {}

	if cfg.Chain.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Chain.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		window = ratelimit.NewRedisWindow(rdb, cfg.Chain.MaxRequests, cfg.Chain.RateWindow)
		cleanup = func() { _ = rdb.Close() }
	} else {
		sw := ratelimit.NewSlidingWindow(cfg.Chain.MaxRequests, cfg.Chain.RateWindow)
		window = sw
		cleanup = sw.Close
	}

	if cfg.Chain.Burst <= 0 {
		return window, cleanup, nil
	}

	rps := float64(cfg.Chain.MaxRequests) / cfg.Chain.RateWindow.Seconds()
	guard := ratelimit.NewBurstGuard(rps, cfg.Chain.Burst)
	guard.StartJanitor(ctx, time.Minute)
	return &ratelimit.TwoStage{Guard: guard, Window: window}, cleanup, nil
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

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
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

// bootstrapArgs holds parsed bootstrap flags.
type bootstrapArgs struct {
	orgSlug string
	orgName string
	email   string
}

// parseBootstrapArgs supports both "--flag value" and "--flag=value".
func parseBootstrapArgs(args []string) (*bootstrapArgs, error) {
	out := &bootstrapArgs{}
	take := func(i *int, name string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--org":
			v, err := take(&i, "--org")
			if err != nil {
				return nil, err
			}
			out.orgSlug = v
		case strings.HasPrefix(arg, "--org="):
			out.orgSlug = strings.TrimPrefix(arg, "--org=")
		case arg == "--name":
			v, err := take(&i, "--name")
			if err != nil {
				return nil, err
			}
			out.orgName = v
		case strings.HasPrefix(arg, "--name="):
			out.orgName = strings.TrimPrefix(arg, "--name=")
		case arg == "--email":
			v, err := take(&i, "--email")
			if err != nil {
				return nil, err
			}
			out.email = v
		case strings.HasPrefix(arg, "--email="):
			out.email = strings.TrimPrefix(arg, "--email=")
		default:
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if out.orgSlug == "" {
		return nil, fmt.Errorf("--org flag is required")
	}
	if out.email == "" {
		return nil, fmt.Errorf("--email flag is required")
	}
	if out.orgName == "" {
		out.orgName = out.orgSlug
	}
	return out, nil
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with a random JWT secret (if not present)
// 2. Creates the first organization and its owner
// 3. Prints a generated owner password and a JWT
func runBootstrap(ctx context.Context) error {
	args, err := parseBootstrapArgs(os.Args[2:])
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "console.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	var cfg *config.Config
	var jwtSecret string

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		configContent := fmt.Sprintf(`# hexlayer-console configuration
# Generated by hexlayer-console bootstrap

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}

		green.Printf("  ✓ Created config: %s\n", configPath)

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		jwtSecret = cfg.Auth.JWTSecret
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = s.Close() }()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	if existing, err := s.ListOrganizations(ctx, store.OrgFilter{Limit: 1}); err != nil {
		return fmt.Errorf("checking organizations: %w", err)
	} else if len(existing) > 0 {
		return fmt.Errorf("bootstrap already complete: organization %q exists", existing[0].Slug)
	}

	org := &store.Organization{Slug: args.orgSlug, Name: args.orgName}
	if err := s.CreateOrganization(ctx, org); err != nil {
		return fmt.Errorf("creating organization: %w", err)
	}

	// Generated password, shown once
	pwBytes := make([]byte, 18)
	if _, err := rand.Read(pwBytes); err != nil {
		return fmt.Errorf("generating password: %w", err)
	}
	password := base64.RawURLEncoding.EncodeToString(pwBytes)

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	owner := &store.User{
		OrgID:        org.ID,
		Email:        args.email,
		PasswordHash: string(hashed),
		Role:         store.RoleOwner,
		Status:       store.UserStatusActive,
	}
	if err := s.CreateUser(ctx, owner); err != nil {
		return fmt.Errorf("creating owner: %w", err)
	}

	green.Printf("  ✓ Created organization: %s\n", org.Slug)
	green.Printf("  ✓ Created owner: %s\n", owner.Email)

	verifier := auth.NewJWTVerifier([]byte(jwtSecret))
	tokenTTL := cfg.Auth.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = config.DefaultTokenTTL
	}
	token, err := verifier.Generate(owner.ID, org.ID, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Owner Account")
	cyan.Println("  -------------")
	fmt.Printf("  Organization: %s (%s)\n", org.Name, org.ID)
	fmt.Printf("  Email:        %s\n", owner.Email)
	fmt.Printf("  Password:     %s\n", password)
	fmt.Printf("  Token:        %s (expires %s)\n", tokenPath, time.Now().Add(tokenTTL).UTC().Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    hexlayer-console serve    # start the console")
	fmt.Println("    hexlayer-admin org list   # verify with the operator CLI")
	fmt.Println()

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("hexlayer-console configuration setup")
	fmt.Println("====================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "console.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Auth Configuration ---")
	jwtSecret := prompt(reader, "JWT secret (leave empty to generate)", "")
	if jwtSecret == "" {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)
	}

	fmt.Println("\n--- Chain Proxy Configuration ---")
	enableChain := prompt(reader, "Enable chain proxy?", "no")
	chainEnabled := strings.ToLower(enableChain) == "yes" || strings.ToLower(enableChain) == "y"

	var upstreamURL, redisAddr string
	if chainEnabled {
		upstreamURL = prompt(reader, "Upstream JSON-RPC URL", "")
		redisAddr = prompt(reader, "Redis address (empty for in-memory rate limits)", "")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# hexlayer-console configuration\n")
	cfg.WriteString("# Generated by hexlayer-console init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("  token_ttl: \"720h\"\n")
	cfg.WriteString("  session_ttl: \"24h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("chain:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", chainEnabled))
	if chainEnabled {
		cfg.WriteString(fmt.Sprintf("  upstream_url: \"%s\"\n", upstreamURL))
		if redisAddr != "" {
			cfg.WriteString(fmt.Sprintf("  redis_addr: \"%s\"\n", redisAddr))
		}
		cfg.WriteString("  max_requests: 120\n")
		cfg.WriteString("  rate_window: \"1m\"\n")
		cfg.WriteString("  burst: 20\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("webhooks:\n")
	cfg.WriteString("  workers: 4\n")
	cfg.WriteString("  max_attempts: 3\n")
	cfg.WriteString("  retry_spacing: \"30s\"\n")
	cfg.WriteString("  timeout: \"10s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  hexlayer-console serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
