package cmd

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/takopi/takopi/internal/audit"
	"github.com/takopi/takopi/internal/bridge"
	"github.com/takopi/takopi/internal/config"
	"github.com/takopi/takopi/internal/engine"
	"github.com/takopi/takopi/internal/event"
	"github.com/takopi/takopi/internal/history"
	"github.com/takopi/takopi/internal/outbox"
	"github.com/takopi/takopi/internal/router"
	"github.com/takopi/takopi/internal/signal"
	"github.com/takopi/takopi/internal/state"
	"github.com/takopi/takopi/internal/transcribe"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bridge daemon",
	Long: `Start the bridge: connect to Telegram, probe the installed engine
CLIs, and serve prompts until interrupted. Only one instance may run per
config file; the second one exits with a pointer at the first.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.ValidateWorkspacePaths(); err != nil {
		return err
	}

	lock, err := state.AcquireLock(cfg.Path + ".lock")
	if err != nil {
		return err
	}
	defer lock.Release()

	var debugLog *slog.Logger
	if debugRaw {
		debugLog = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	rt, err := router.New(event.EngineID(cfg.DefaultEngine),
		engine.NewCodex(debugLog),
		engine.NewClaude(debugLog),
		engine.NewOpencode(debugLog),
		engine.NewCursor(debugLog),
		engine.NewPi(debugLog),
	)
	if err != nil {
		return err
	}
	for _, entry := range rt.Entries() {
		if entry.Available {
			log.Printf("[takopi] engine %s ready", entry.Engine)
		} else {
			log.Printf("[takopi] engine %s unavailable: %s", entry.Engine, entry.Issue)
		}
	}

	transport, err := bridge.DialTelegram(cfg.Transports.Telegram.BotToken)
	if err != nil {
		return err
	}

	stateDir := filepath.Dir(cfg.Path)
	threads, err := state.LoadThreads(filepath.Join(stateDir, "threads.json"))
	if err != nil {
		return err
	}
	prefs, err := state.LoadPrefs(filepath.Join(stateDir, "prefs.json"))
	if err != nil {
		return err
	}

	var auditLog *audit.Log
	if cfg.Audit.Path != "" {
		auditLog, err = audit.Open(cfg.Audit.Path, cfg.Audit.MaxText)
		if err != nil {
			return err
		}
		defer auditLog.Close()
	}

	hist, err := history.Open(filepath.Join(stateDir, "history.db"))
	if err != nil {
		return err
	}
	defer hist.Close()

	var voice bridge.Transcriber
	if cfg.Transcribe.APIKey != "" {
		voice = transcribe.New(cfg.Transcribe.BaseURL, cfg.Transcribe.APIKey, cfg.Transcribe.Model)
	}

	runtime := bridge.NewRuntime(bridge.Options{
		Config:    cfg,
		Transport: transport,
		Router:    rt,
		Queue:     outbox.New(outbox.DefaultLimits()),
		Threads:   threads,
		Prefs:     prefs,
		Audit:     auditLog,
		History:   hist,
		Voice:     voice,
	})

	ctx, stop := signal.NotifyContext()
	defer stop()

	log.Printf("[takopi] bridge up as @%s", transport.BotUsername())
	if err := runtime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("[takopi] shut down cleanly")
	return nil
}
