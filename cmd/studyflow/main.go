package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/csheth/studyflow/internal/annotations"
	"github.com/csheth/studyflow/internal/api"
	"github.com/csheth/studyflow/internal/config"
	"github.com/csheth/studyflow/internal/logging"
	"github.com/csheth/studyflow/internal/metrics"
	"github.com/csheth/studyflow/internal/render"
	"github.com/csheth/studyflow/internal/tui"
)

func main() {
	cfg := config.Load()
	baseURL := flag.String("base-url", cfg.BaseURL, "study backend root URL")
	stateFile := flag.String("state-file", cfg.StateFile, "keep questions and notes in this JSON file instead of the state database")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address (eg. 127.0.0.1:9464)")
	logFile := flag.String("log-file", cfg.LogFile, "write logs to this file (empty disables logging)")
	debug := flag.Bool("debug", cfg.Debug, "enable debug logging")
	noAltScreen := flag.Bool("no-alt-screen", false, "disable the alternate screen buffer")
	fileID := flag.String("file", "", "open a previously uploaded document by id")
	uploadPath := flag.String("upload", "", "upload this file on start")
	flag.Parse()

	cfg.BaseURL = *baseURL
	cfg.StateFile = *stateFile
	cfg.MetricsAddr = *metricsAddr
	cfg.LogFile = *logFile
	cfg.Debug = *debug

	closeLog, err := setupLogging(cfg)
	if err != nil {
		fmt.Println("failed to open log file:", err)
		os.Exit(1)
	}
	defer closeLog()
	log := logging.New("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Println("failed to open state store:", err)
		os.Exit(1)
	}
	defer store.Close()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, metrics.Router()); err != nil {
				log.Error("metrics server stopped", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
	}

	client := api.New(cfg.BaseURL, api.Options{})
	engine, err := render.NewEngine(render.Options{
		CacheDir:   cfg.DocumentCacheDir(),
		ResolveURL: client.ResolveURL,
	})
	if err != nil {
		fmt.Println("failed to prepare document cache:", err)
		os.Exit(1)
	}
	defer engine.Close()

	log.Info("starting", "base_url", cfg.BaseURL, "file", *fileID, "upload", *uploadPath)

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithMouseCellMotion()}
	if !*noAltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	program := tea.NewProgram(
		tui.New(tui.Config{
			API:         client,
			Engine:      engine,
			Annotations: annotations.NewCache(store),
			FileID:      *fileID,
			UploadPath:  *uploadPath,
		}),
		opts...,
	)

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		fmt.Println("program error:", err)
		os.Exit(1)
	}
}

// setupLogging sends structured logs to the log file; the terminal belongs to
// the TUI.
func setupLogging(cfg config.Config) (func(), error) {
	if cfg.LogFile == "" {
		logging.Init(io.Discard, cfg.Debug)
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, err
	}
	f, err := tea.LogToFile(cfg.LogFile, "studyflow")
	if err != nil {
		return nil, err
	}
	logging.Init(f, cfg.Debug)
	return func() { _ = f.Close() }, nil
}

func openStore(ctx context.Context, cfg config.Config) (annotations.Store, error) {
	switch {
	case cfg.RedisAddr != "":
		return annotations.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPass)
	case cfg.StateFile != "":
		return annotations.NewFileStore(cfg.StateFile), nil
	default:
		return annotations.NewBoltStore(cfg.StatePath)
	}
}
