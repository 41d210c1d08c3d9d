package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/chzyer/readline"
	"github.com/harun/tandem/internal/config"
	"github.com/harun/tandem/internal/logger"
	"github.com/harun/tandem/internal/observability"
	"github.com/harun/tandem/internal/telegram"
	"github.com/harun/tandem/internal/tracing"
	"github.com/harun/tandem/pkg/channels"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

type mode int

const (
	modePrompt mode = iota
	modeInteractive
	modeServe
)

func selectMode(prompt string, interactive bool, cfg *config.Config) mode {
	switch {
	case prompt != "":
		return modePrompt
	case interactive || !cfg.Telegram.Enabled():
		return modeInteractive
	default:
		return modeServe
	}
}

func resolveCwd(flag string) (string, error) {
	dir := flag
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %s is not a directory", abs)
	}
	return abs, nil
}

func run(ctx context.Context, opts *rootOptions, prompt string, stdout io.Writer) error {
	cwd, err := resolveCwd(opts.cwd)
	if err != nil {
		return err
	}

	loader := config.NewLoader(opts.configPath).WithEnvFile(filepath.Join(cwd, ".env"))
	cfg, err := loader.Load(cwd)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	m := selectMode(prompt, opts.interactive, cfg)

	logs, err := newLogger(cfg, m == modeServe)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logs.Close()
	log := logs.GetZerolog()

	observability.EnsureRegistered()
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		log.Warn().Err(err).Msg("Audit log disabled")
	}
	if cfg.Tracing.Enabled {
		name := cfg.Tracing.ServiceName
		if name == "" {
			name = "tandem"
		}
		if err := tracing.InitOpenTelemetry(name); err != nil {
			log.Warn().Err(err).Msg("Tracing disabled")
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = tracing.ShutdownOpenTelemetry(sctx)
		}()
	}
	if opts.metricsAddr != "" {
		stop := serveMetrics(opts.metricsAddr, log)
		defer stop()
	}

	render := NewRenderer(stdout)
	app, err := NewApp(ctx, AppOptions{Config: cfg, Renderer: render, Logger: log})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Close(sctx); err != nil {
			log.Warn().Err(err).Msg("Shutdown finished with errors")
		}
	}()

	if err := loader.Watch(cwd, app.ApplyConfig); err != nil {
		log.Warn().Err(err).Msg("Config hot reload disabled")
	}

	registry := channels.NewRegistry(log)
	if cfg.Telegram.Enabled() {
		if err := registerTelegram(registry, app, cfg, log); err != nil {
			render.Error("Failed to start Telegram channel: %v", err)
		}
	}
	if err := registry.StartAll(ctx); err != nil {
		render.Error("Failed to start channels: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := registry.StopAll(sctx); err != nil {
			log.Warn().Err(err).Msg("Channels did not stop cleanly")
		}
	}()

	switch m {
	case modePrompt:
		return runPrompt(ctx, app, prompt, os.Stdin)
	case modeInteractive:
		return runInteractive(ctx, app, NewREPL(app))
	default:
		render.Info("Telegram bot is running in the background. Use --cli to open the interactive terminal.")
		<-ctx.Done()
		return nil
	}
}

// The terminal UI owns stdout, so console logging is only on when serving.
func newLogger(cfg *config.Config, console bool) (*logger.Logger, error) {
	file := cfg.Logging.File
	if file == "" {
		file = filepath.Join(cfg.DataDir, "logs", "tandem.log")
	}
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      file,
		Console:   console || cfg.Logging.Console,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
}

func serveMetrics(addr string, log zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func registerTelegram(registry *channels.Registry, app *App, cfg *config.Config, log zerolog.Logger) error {
	api, err := telegram.Dial(cfg.Telegram.BotToken)
	if err != nil {
		return err
	}
	bot, err := telegram.New(api, telegram.Options{
		Config:    cfg.Telegram,
		Handle:    app.Handle(),
		Logger:    log,
		MediaDir:  filepath.Join(cfg.DataDir, "media"),
		AfterTurn: app.Autosave,
	})
	if err != nil {
		return err
	}
	return registry.Register(bot)
}

// runPrompt runs a single turn. Lines on stdin answer questions the agent
// asks along the way.
func runPrompt(ctx context.Context, app *App, prompt string, stdin io.Reader) error {
	go func() {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			app.Answer(scanner.Text())
		}
	}()

	_, err := app.RunTurn(ctx, prompt)
	return err
}

func runInteractive(ctx context.Context, app *App, repl *REPL) error {
	cfg := app.cfg
	items := make([]readline.PrefixCompleterInterface, 0, len(repl.Commands().Names()))
	for _, name := range repl.Commands().Names() {
		items = append(items, readline.PcItem(name))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[1;34m>\033[0m ",
		HistoryFile:       filepath.Join(cfg.DataDir, "history"),
		AutoComplete:      readline.NewPrefixCompleter(items...),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	render := app.render
	render.SetWriter(rl.Stdout())

	settings := app.Session().Settings()
	render.Heading("Tandem")
	render.Dim("model: %s", settings.Model)
	render.Dim("cwd: %s", settings.WorkingDir)
	render.Dim("commands: /help /config /approval /model /exit")

	lines := make(chan string)
	interrupts := make(chan struct{}, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(lines)
		for {
			line, err := rl.Readline()
			if errors.Is(err, readline.ErrInterrupt) {
				select {
				case interrupts <- struct{}{}:
				default:
				}
				continue
			}
			if err != nil {
				return
			}
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
	}()

	err = repl.Run(ctx, lines, interrupts)
	render.Dim("Goodbye!")
	return err
}
