package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stupiduntilnot/enerlytic/internal/assistant"
	cmdpkg "github.com/stupiduntilnot/enerlytic/internal/commander"
	"github.com/stupiduntilnot/enerlytic/internal/config"
	ctxpkg "github.com/stupiduntilnot/enerlytic/internal/context"
	"github.com/stupiduntilnot/enerlytic/internal/control"
	"github.com/stupiduntilnot/enerlytic/internal/conversation"
	"github.com/stupiduntilnot/enerlytic/internal/db"
	"github.com/stupiduntilnot/enerlytic/internal/dummy"
	"github.com/stupiduntilnot/enerlytic/internal/history"
	modelpkg "github.com/stupiduntilnot/enerlytic/internal/model"
	"github.com/stupiduntilnot/enerlytic/internal/openai"
	"github.com/stupiduntilnot/enerlytic/internal/telegram"
)

func main() {
	cfg, err := config.LoadBotConfig()
	if err != nil {
		log.Fatalf("[enerlytic] %v", err)
	}
	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("[enerlytic] %v", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.BotConfig, logger *slog.Logger) error {
	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.InitSchema(database); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}

	rootID, err := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{
		"role":     "bot",
		"pid":      os.Getpid(),
		"provider": cfg.ModelProvider,
		"source":   cfg.Commander,
		"model":    cfg.OpenAIModel,
	})
	if err != nil {
		logger.Warn("failed to log process.started", "error", err)
	}
	journal := db.NewEventLog(database, rootID, logger)

	if n, err := db.CleanupInFlightUpdates(database); err != nil {
		logger.Warn("inbox cleanup failed", "error", err)
	} else if n > 0 {
		journal.Record(0, db.EventUpdatesAbandoned, map[string]any{"count": n})
		logger.Info("abandoned updates from previous run", "count", n)
	}

	commander, err := newCommander(&cfg)
	if err != nil {
		return fmt.Errorf("failed to init commander: %w", err)
	}
	provider, transcriber, err := newModelBackends(&cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to init model provider: %w", err)
	}

	store, err := history.NewFileStore(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	conv := conversation.NewManager(store, cfg.SystemPrompt, logger)
	warmed, err := conv.Warm()
	if err != nil {
		logger.Warn("history warm-up failed", "error", err)
	}
	journal.Record(0, db.EventHistoryWarmed, map[string]any{"records": warmed})

	orch, err := assistant.New(assistant.Deps{
		Conversations: conv,
		Assembler:     &ctxpkg.StandardAssembler{Compressor: &ctxpkg.HeadKeepingCompressor{MaxTurns: cfg.HistoryWindow}},
		Provider:      provider,
		Transcriber:   transcriber,
		Journal:       journal,
		Logger:        logger,
		Model:         cfg.OpenAIModel,
		HistoryWindow: cfg.HistoryWindow,
		Policy:        control.Policy{MaxWallTime: time.Duration(cfg.CompletionTimeoutSeconds) * time.Second},
	})
	if err != nil {
		return err
	}

	b := newBot(&cfg, database, commander, orch, journal, logger)
	logger.Info("bot running",
		"model", cfg.OpenAIModel,
		"provider", cfg.ModelProvider,
		"source", cfg.Commander,
		"data_dir", cfg.DataDir,
		"records", warmed,
	)
	pollErr := b.poll(ctx)
	journal.Record(0, db.EventProcessStopped, map[string]any{"handled": b.handled.Load()})
	return pollErr
}

func newCommander(cfg *config.BotConfig) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		return telegram.NewClient(cfg.TelegramAPIBase, cfg.TelegramFileBase, time.Duration(cfg.Timeout+20)*time.Second), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newModelBackends(cfg *config.BotConfig, logger *slog.Logger) (modelpkg.Provider, modelpkg.Transcriber, error) {
	switch cfg.ModelProvider {
	case "openai":
		client := openai.NewClient(openai.Config{
			APIKey:          cfg.OpenAIAPIKey,
			BaseURL:         cfg.OpenAIAPIBase,
			Model:           cfg.OpenAIModel,
			TranscribeModel: cfg.TranscribeModel,
			Temperature:     float32(cfg.Temperature),
			MaxTokens:       cfg.MaxTokens,
			MaxRetries:      cfg.CompletionMaxRetries,
			Timeout:         time.Duration(cfg.CompletionTimeoutSeconds) * time.Second,
			Logger:          logger,
		})
		return client, client, nil
	case "dummy":
		provider, err := dummy.NewProvider(cfg.OpenAIModel, cfg.DummyProviderScript)
		if err != nil {
			return nil, nil, err
		}
		transcriber, err := dummy.NewTranscriber(cfg.DummyTranscriberScript)
		if err != nil {
			return nil, nil, err
		}
		return provider, transcriber, nil
	default:
		return nil, nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}
