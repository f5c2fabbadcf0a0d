// Package assistant drives one exchange per inbound message: assemble the
// prompt, call the completion service, persist the outcome and reply.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	ctxpkg "github.com/stupiduntilnot/enerlytic/internal/context"
	"github.com/stupiduntilnot/enerlytic/internal/control"
	"github.com/stupiduntilnot/enerlytic/internal/conversation"
	"github.com/stupiduntilnot/enerlytic/internal/db"
	modelpkg "github.com/stupiduntilnot/enerlytic/internal/model"
	"github.com/stupiduntilnot/enerlytic/internal/texts"
)

// voiceFilename is the upload name for transcription. Telegram voice notes
// are OGG/Opus.
const voiceFilename = "voice.ogg"

// Sink delivers output to the chat a message came from.
type Sink interface {
	Reply(ctx context.Context, text string) error
	Typing(ctx context.Context) error
}

// Journal records lifecycle events. parentID 0 attaches to the process root.
type Journal interface {
	Record(parentID int64, eventType string, payload map[string]any) int64
}

type nopJournal struct{}

func (nopJournal) Record(int64, string, map[string]any) int64 { return 0 }

// Deps wires an Orchestrator. Conversations, Assembler and Provider are
// required.
type Deps struct {
	Conversations *conversation.Manager
	Assembler     ctxpkg.Assembler
	Provider      modelpkg.Provider
	Transcriber   modelpkg.Transcriber
	Journal       Journal
	Logger        *slog.Logger
	Model         string
	HistoryWindow int
	Policy        control.Policy
}

// Orchestrator runs exchanges. A user's exchanges run one at a time so each
// message sees the previous reply; different users proceed in parallel.
type Orchestrator struct {
	conv          *conversation.Manager
	assembler     ctxpkg.Assembler
	provider      modelpkg.Provider
	transcriber   modelpkg.Transcriber
	journal       Journal
	logger        *slog.Logger
	model         string
	historyWindow int
	policy        control.Policy
	exchanges     *conversation.Locker
	newRequestID  func() string
}

// Outcome summarizes a handled message. Failure is empty on success.
type Outcome struct {
	RequestID string
	Failure   modelpkg.FailureKind
	Reply     string
}

// OK reports whether the exchange produced a model answer or command reply.
func (o Outcome) OK() bool { return o.Failure == "" }

// New validates d and fills defaults for the optional fields. Conversations,
// Assembler and Provider are required; without a Transcriber voice notes get
// the voice failure reply.
func New(d Deps) (*Orchestrator, error) {
	if d.Conversations == nil {
		return nil, errors.New("assistant: conversation manager is required")
	}
	if d.Assembler == nil {
		return nil, errors.New("assistant: assembler is required")
	}
	if d.Provider == nil {
		return nil, errors.New("assistant: completion provider is required")
	}
	if d.Journal == nil {
		d.Journal = nopJournal{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.HistoryWindow < 1 {
		d.HistoryWindow = 20
	}
	if d.Policy.MaxWallTime <= 0 {
		d.Policy.MaxWallTime = control.DefaultPolicy().MaxWallTime
	}
	return &Orchestrator{
		conv:          d.Conversations,
		assembler:     d.Assembler,
		provider:      d.Provider,
		transcriber:   d.Transcriber,
		journal:       d.Journal,
		logger:        d.Logger,
		model:         d.Model,
		historyWindow: d.HistoryWindow,
		policy:        d.Policy,
		exchanges:     conversation.NewLocker(),
		newRequestID:  newRequestID,
	}, nil
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// exchange carries per-message identifiers through the pipeline.
type exchange struct {
	requestID string
	userID    string
	eventID   int64
	logger    *slog.Logger
}

func (o *Orchestrator) begin(userID, kind string) *exchange {
	ex := &exchange{
		requestID: o.newRequestID(),
		userID:    userID,
	}
	ex.logger = o.logger.With("request_id", ex.requestID, "user_id", userID)
	ex.eventID = o.journal.Record(0, db.EventMessageReceived, map[string]any{
		"request_id": ex.requestID,
		"user_id":    userID,
		"kind":       kind,
	})
	ex.logger.Debug("message received", "kind", kind)
	return ex
}

// HandleText answers a text message.
func (o *Orchestrator) HandleText(ctx context.Context, userID, text string, sink Sink) (Outcome, error) {
	unlock := o.exchanges.Lock(userID)
	defer unlock()

	ex := o.begin(userID, "text")
	return o.complete(ctx, ex, strings.TrimSpace(text), nil, sink)
}

// HandleVoice transcribes a voice note, echoes the transcript and answers it
// like a text message.
func (o *Orchestrator) HandleVoice(ctx context.Context, userID string, audio []byte, sink Sink) (Outcome, error) {
	unlock := o.exchanges.Lock(userID)
	defer unlock()

	ex := o.begin(userID, "voice")
	if o.transcriber == nil || len(audio) == 0 {
		return o.fail(ctx, ex, modelpkg.FailureUnclassified, texts.VoiceFailed, sink)
	}
	o.notify(ctx, ex, texts.VoiceProcessing, sink)
	o.typing(ctx, ex, sink)

	callCtx, cancel := context.WithTimeout(ctx, o.policy.MaxWallTime)
	started := time.Now()
	transcript, err := o.transcriber.Transcribe(callCtx, audio, voiceFilename)
	expired := callCtx.Err() == context.DeadlineExceeded
	cancel()
	if err != nil {
		kind := classify(err, expired)
		o.journal.Record(ex.eventID, db.EventTurnFailed, map[string]any{
			"stage":      "transcription",
			"kind":       string(kind),
			"latency_ms": time.Since(started).Milliseconds(),
			"error":      err.Error(),
		})
		ex.logger.Warn("transcription failed", "kind", kind, "error", err)
		return o.fail(ctx, ex, kind, FailureMessage(kind), sink)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		ex.logger.Info("empty transcript")
		return o.fail(ctx, ex, modelpkg.FailureUnclassified, texts.VoiceFailed, sink)
	}
	o.journal.Record(ex.eventID, db.EventTranscribed, map[string]any{
		"latency_ms": time.Since(started).Milliseconds(),
		"chars":      len([]rune(transcript)),
	})

	if err := o.deliver(ctx, ex, texts.Understood(transcript), sink); err != nil {
		return Outcome{RequestID: ex.requestID}, err
	}
	return o.complete(ctx, ex, transcript, nil, sink)
}

// HandleImage answers a photo. The image travels to the model as a data URI
// attached to the user turn; caption defaults to a generic request.
func (o *Orchestrator) HandleImage(ctx context.Context, userID string, image []byte, caption string, sink Sink) (Outcome, error) {
	unlock := o.exchanges.Lock(userID)
	defer unlock()

	ex := o.begin(userID, "photo")
	if len(image) == 0 {
		return o.fail(ctx, ex, modelpkg.FailureUnclassified, texts.ImageFailed, sink)
	}
	o.notify(ctx, ex, texts.ImageProcessing, sink)
	content := strings.TrimSpace(caption)
	if content == "" {
		content = texts.DefaultImageText
	}
	attachments := []ctxpkg.Attachment{{Kind: ctxpkg.AttachmentImage, Locator: ImageDataURI(image)}}
	return o.complete(ctx, ex, content, attachments, sink)
}

// Reset clears the user's conversation back to the system turn.
func (o *Orchestrator) Reset(ctx context.Context, userID string, sink Sink) (Outcome, error) {
	unlock := o.exchanges.Lock(userID)
	defer unlock()

	ex := o.begin(userID, "reset")
	record, err := o.conv.Reset(userID)
	if err != nil {
		o.persistFailed(ex, "reset", err)
	} else {
		o.journal.Record(ex.eventID, db.EventHistoryReset, map[string]any{"record_turns": len(record)})
	}
	ex.logger.Info("conversation reset")
	if err := o.deliver(ctx, ex, texts.ResetDone, sink); err != nil {
		return Outcome{RequestID: ex.requestID}, err
	}
	return Outcome{RequestID: ex.requestID, Reply: texts.ResetDone}, nil
}

// Start greets the user and records the greeting as an assistant turn so the
// model knows it already introduced itself.
func (o *Orchestrator) Start(ctx context.Context, userID string, sink Sink) (Outcome, error) {
	unlock := o.exchanges.Lock(userID)
	defer unlock()

	ex := o.begin(userID, "start")
	sendErr := o.deliver(ctx, ex, texts.Welcome, sink)
	if record, err := o.conv.AppendAssistantTurn(userID, texts.Welcome); err != nil {
		o.persistFailed(ex, ctxpkg.RoleAssistant, err)
	} else {
		o.journal.Record(ex.eventID, db.EventHistoryPersisted, map[string]any{"record_turns": len(record)})
	}
	if sendErr != nil {
		return Outcome{RequestID: ex.requestID}, sendErr
	}
	return Outcome{RequestID: ex.requestID, Reply: texts.Welcome}, nil
}

// complete runs the completion half of an exchange. The caller holds the
// user's exchange lock.
func (o *Orchestrator) complete(ctx context.Context, ex *exchange, content string, attachments []ctxpkg.Attachment, sink Sink) (Outcome, error) {
	prior := o.conv.GetOrCreate(ex.userID)
	messages := o.assembler.Assemble(prior, content, attachments, o.historyWindow)
	o.journal.Record(ex.eventID, db.EventContextAssembled, map[string]any{
		"record_turns":  len(prior),
		"message_count": len(messages),
		"max_turns":     o.historyWindow,
		"attachments":   len(attachments),
	})

	if _, err := o.conv.AppendUserTurn(ex.userID, content, attachments); err != nil {
		o.persistFailed(ex, ctxpkg.RoleUser, err)
	}

	o.typing(ctx, ex, sink)
	turnID := o.journal.Record(ex.eventID, db.EventTurnStarted, map[string]any{"model_name": o.model})

	callCtx, cancel := context.WithTimeout(ctx, o.policy.MaxWallTime)
	started := time.Now()
	resp, err := o.provider.ChatCompletion(callCtx, messages)
	expired := callCtx.Err() == context.DeadlineExceeded
	cancel()
	latency := time.Since(started)

	reply := strings.TrimSpace(resp.Content)
	if err == nil && reply == "" {
		err = &modelpkg.Failure{Kind: modelpkg.FailureUnclassified, Err: errors.New("empty completion")}
	}
	if err != nil {
		kind := classify(err, expired)
		o.journal.Record(turnID, db.EventTurnFailed, map[string]any{
			"model_name": o.model,
			"kind":       string(kind),
			"latency_ms": latency.Milliseconds(),
			"error":      err.Error(),
		})
		ex.logger.Warn("completion failed", "kind", kind, "latency", latency, "error", err)
		return o.fail(ctx, ex, kind, FailureMessage(kind), sink)
	}

	o.journal.Record(turnID, db.EventTurnCompleted, map[string]any{
		"model_name":    o.model,
		"latency_ms":    latency.Milliseconds(),
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	})
	ex.logger.Info("completion succeeded",
		"latency", latency,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)

	if record, err := o.conv.AppendAssistantTurn(ex.userID, reply); err != nil {
		o.persistFailed(ex, ctxpkg.RoleAssistant, err)
	} else {
		o.journal.Record(ex.eventID, db.EventHistoryPersisted, map[string]any{"record_turns": len(record)})
	}

	if err := o.deliver(ctx, ex, reply, sink); err != nil {
		return Outcome{RequestID: ex.requestID}, err
	}
	return Outcome{RequestID: ex.requestID, Reply: reply}, nil
}

func (o *Orchestrator) fail(ctx context.Context, ex *exchange, kind modelpkg.FailureKind, text string, sink Sink) (Outcome, error) {
	out := Outcome{RequestID: ex.requestID, Failure: kind, Reply: text}
	if err := o.deliver(ctx, ex, text, sink); err != nil {
		return out, err
	}
	return out, nil
}

func (o *Orchestrator) deliver(ctx context.Context, ex *exchange, text string, sink Sink) error {
	if err := sink.Reply(ctx, text); err != nil {
		o.journal.Record(ex.eventID, db.EventReplyFailed, map[string]any{"error": err.Error()})
		ex.logger.Error("reply failed", "error", err)
		return fmt.Errorf("send reply: %w", err)
	}
	o.journal.Record(ex.eventID, db.EventReplySent, map[string]any{"chars": len([]rune(text))})
	return nil
}

// notify sends a progress notice. A failed notice does not stop the exchange.
func (o *Orchestrator) notify(ctx context.Context, ex *exchange, text string, sink Sink) {
	if err := sink.Reply(ctx, text); err != nil {
		ex.logger.Warn("progress notice failed", "error", err)
	}
}

func (o *Orchestrator) typing(ctx context.Context, ex *exchange, sink Sink) {
	if err := sink.Typing(ctx); err != nil {
		ex.logger.Debug("typing indicator failed", "error", err)
	}
}

func (o *Orchestrator) persistFailed(ex *exchange, role string, err error) {
	o.journal.Record(ex.eventID, db.EventHistoryPersistFailed, map[string]any{
		"role":  role,
		"error": err.Error(),
	})
	ex.logger.Error("history persist failed", "role", role, "error", err)
}

// classify maps an error to a failure kind. expired marks calls whose own
// deadline ran out, which always count as timeouts.
func classify(err error, expired bool) modelpkg.FailureKind {
	if expired {
		return modelpkg.FailureTimeout
	}
	return modelpkg.Classify(err)
}
