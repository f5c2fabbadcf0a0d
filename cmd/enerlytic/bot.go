package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/stupiduntilnot/enerlytic/internal/assistant"
	cmdpkg "github.com/stupiduntilnot/enerlytic/internal/commander"
	"github.com/stupiduntilnot/enerlytic/internal/config"
	"github.com/stupiduntilnot/enerlytic/internal/control"
	"github.com/stupiduntilnot/enerlytic/internal/db"
	modelpkg "github.com/stupiduntilnot/enerlytic/internal/model"
	"github.com/stupiduntilnot/enerlytic/internal/texts"
)

const (
	pollErrorClass = "command_source_api"
	shutdownGrace  = 30 * time.Second
)

type bot struct {
	cfg       *config.BotConfig
	db        *sql.DB
	commander cmdpkg.Commander
	orch      *assistant.Orchestrator
	journal   *db.EventLog
	logger    *slog.Logger
	circuit   *control.CircuitBreaker
	dispatch  *dispatcher
	handled   atomic.Int64
}

func newBot(cfg *config.BotConfig, database *sql.DB, commander cmdpkg.Commander, orch *assistant.Orchestrator, journal *db.EventLog, logger *slog.Logger) *bot {
	return &bot{
		cfg:       cfg,
		db:        database,
		commander: commander,
		orch:      orch,
		journal:   journal,
		logger:    logger,
		circuit:   control.NewCircuitBreaker(5, 30*time.Second),
		dispatch:  newDispatcher(cfg.MaxConcurrent),
	}
}

// poll long-polls the commander until ctx is done, then waits for in-flight
// exchanges. Exchanges still running after shutdownGrace are cancelled.
func (b *bot) poll(ctx context.Context) error {
	offset, err := db.DeriveOffset(b.db)
	if err != nil {
		return fmt.Errorf("failed to derive offset: %w", err)
	}
	if offset == 0 && b.cfg.DropPending {
		bootstrapped, err := bootstrapOffset(ctx, b.commander, b.cfg.PendingWindowSeconds, b.cfg.PendingMaxMessages)
		if err != nil {
			b.logger.Warn("bootstrap offset failed", "error", err)
		} else {
			offset = bootstrapped
		}
	}

	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()
	idle := time.Duration(b.cfg.SleepSeconds) * time.Second

	for ctx.Err() == nil {
		prevState := b.circuit.State()
		if !b.circuit.Allow(time.Now()) {
			sleepCtx(ctx, idle)
			continue
		}
		if prevState == control.CircuitOpen && b.circuit.State() == control.CircuitHalfOpen {
			b.journal.Record(0, db.EventCircuitHalfOpen, map[string]any{
				"error_class": b.circuit.OpenedClass(),
			})
		}

		updates, err := b.commander.GetUpdates(ctx, offset, b.cfg.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			b.logger.Warn("getUpdates failed", "error", err)
			if b.circuit.RecordFailure(pollErrorClass, time.Now()) {
				b.journal.Record(0, db.EventCircuitOpened, map[string]any{
					"error_class":      pollErrorClass,
					"threshold":        b.circuit.Threshold,
					"cooldown_seconds": int(b.circuit.Cooldown.Seconds()),
				})
			}
			sleepCtx(ctx, idle)
			continue
		}
		if b.circuit.RecordSuccess() {
			b.journal.Record(0, db.EventCircuitClosed, map[string]any{"recovered": true})
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			b.enqueue(handlerCtx, update)
		}
		if len(updates) == 0 {
			sleepCtx(ctx, idle)
		}
	}

	b.logger.Info("shutting down, waiting for in-flight exchanges")
	done := make(chan struct{})
	go func() {
		b.dispatch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		b.logger.Warn("shutdown grace elapsed, cancelling exchanges")
		cancelHandlers()
		<-done
	}
	return nil
}

// enqueue journals update and hands it to the dispatcher. Updates already in
// the inbox are dropped.
func (b *bot) enqueue(ctx context.Context, update cmdpkg.Update) {
	msg := update.Message
	if msg == nil {
		b.logger.Debug("skipping non-message update", "update_id", update.UpdateID)
		return
	}
	userID := msg.UserID()
	created, err := db.RecordUpdate(b.db, update.UpdateID, msg.Chat.ID, userID, string(msg.Kind()), msg.Date)
	if err != nil {
		b.logger.Warn("inbox record failed", "update_id", update.UpdateID, "error", err)
	} else if !created {
		b.logger.Debug("skipping duplicate update", "update_id", update.UpdateID)
		return
	}
	b.dispatch.Submit(userID, func() { b.handle(ctx, update.UpdateID, msg) })
}

func (b *bot) handle(ctx context.Context, updateID int64, msg *cmdpkg.Message) {
	b.handled.Add(1)
	sink := chatSink{commander: b.commander, chatID: msg.Chat.ID}
	status := db.UpdateStatusReceived
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		b.logger.Error("exchange panicked", "update_id", updateID, "user_id", msg.UserID(), "panic", r, "stack", string(debug.Stack()))
		if err := sink.Reply(ctx, texts.Unexpected); err != nil {
			b.logger.Warn("reply failed", "update_id", updateID, "error", err)
		}
		b.transition(updateID, status, db.UpdateStatusFailed, fmt.Sprintf("panic: %v", r))
	}()

	if msg.Kind() == cmdpkg.KindUnsupported {
		if err := sink.Reply(ctx, texts.Unsupported); err != nil {
			b.logger.Warn("reply failed", "update_id", updateID, "error", err)
		}
		b.transition(updateID, status, db.UpdateStatusSkipped, "unsupported")
		return
	}
	b.transition(updateID, status, db.UpdateStatusProcessing, "")
	status = db.UpdateStatusProcessing

	out, err := b.route(ctx, msg, sink)
	switch {
	case err != nil:
		b.logger.Error("exchange failed", "update_id", updateID, "user_id", msg.UserID(), "error", err)
		b.transition(updateID, status, db.UpdateStatusFailed, err.Error())
	case !out.OK():
		b.transition(updateID, status, db.UpdateStatusFailed, string(out.Failure))
	default:
		b.transition(updateID, status, db.UpdateStatusDone, "")
	}
}

func (b *bot) route(ctx context.Context, msg *cmdpkg.Message, sink assistant.Sink) (assistant.Outcome, error) {
	userID := msg.UserID()
	switch msg.Kind() {
	case cmdpkg.KindCommand:
		switch msg.Command() {
		case "start":
			return b.orch.Start(ctx, userID, sink)
		case "reset":
			return b.orch.Reset(ctx, userID, sink)
		case "help":
			return staticReply(ctx, sink, texts.Help)
		case "privacy":
			return staticReply(ctx, sink, texts.Privacy)
		case "terms":
			return staticReply(ctx, sink, texts.Terms)
		default:
			return staticReply(ctx, sink, texts.UnknownCommand)
		}
	case cmdpkg.KindText:
		return b.orch.HandleText(ctx, userID, *msg.Text, sink)
	case cmdpkg.KindVoice:
		audio, err := b.commander.DownloadFile(ctx, msg.Voice.FileID)
		if err != nil {
			b.logger.Warn("voice download failed", "user_id", userID, "file_id", msg.Voice.FileID, "error", err)
			return downloadFailed(ctx, sink, texts.VoiceFailed, err)
		}
		return b.orch.HandleVoice(ctx, userID, audio, sink)
	case cmdpkg.KindPhoto:
		photo := msg.LargestPhoto()
		image, err := b.commander.DownloadFile(ctx, photo.FileID)
		if err != nil {
			b.logger.Warn("photo download failed", "user_id", userID, "file_id", photo.FileID, "error", err)
			return downloadFailed(ctx, sink, texts.ImageFailed, err)
		}
		return b.orch.HandleImage(ctx, userID, image, msg.CaptionText(), sink)
	default:
		return staticReply(ctx, sink, texts.Unsupported)
	}
}

func staticReply(ctx context.Context, sink assistant.Sink, text string) (assistant.Outcome, error) {
	return assistant.Outcome{Reply: text}, sink.Reply(ctx, text)
}

func downloadFailed(ctx context.Context, sink assistant.Sink, text string, cause error) (assistant.Outcome, error) {
	kind := modelpkg.FailureConnectivity
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, context.Canceled) {
		kind = modelpkg.FailureTimeout
	}
	return assistant.Outcome{Failure: kind, Reply: text}, sink.Reply(ctx, text)
}

func (b *bot) transition(updateID int64, from, to, lastError string) {
	ok, err := db.TransitionUpdate(b.db, updateID, from, to, lastError)
	if err != nil {
		b.logger.Warn("inbox transition failed", "update_id", updateID, "from", from, "to", to, "error", err)
		return
	}
	if !ok {
		b.logger.Debug("inbox transition not applied", "update_id", updateID, "from", from, "to", to)
	}
}

// bootstrapOffset picks the first offset on a fresh inbox: recent pending
// updates inside the window are kept, up to pendingMaxMessages, and the rest
// are skipped.
func bootstrapOffset(ctx context.Context, commander cmdpkg.Commander, pendingWindowSeconds int64, pendingMaxMessages int) (int64, error) {
	updates, err := commander.GetUpdates(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}

	cutoff := time.Now().Unix() - pendingWindowSeconds
	var inWindow []cmdpkg.Update
	for _, u := range updates {
		if u.Message != nil && u.Message.Date >= cutoff {
			inWindow = append(inWindow, u)
		}
	}
	if len(inWindow) == 0 {
		return updates[len(updates)-1].UpdateID + 1, nil
	}
	if pendingMaxMessages > 0 && len(inWindow) > pendingMaxMessages {
		inWindow = inWindow[len(inWindow)-pendingMaxMessages:]
	}
	return inWindow[0].UpdateID, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
