// Package dummy provides scripted offline implementations of the transport,
// completion and transcription interfaces.
//
// A script is a comma separated list of actions consumed one per call; the
// last action repeats once the script is exhausted. Actions: ok, err:<arg>,
// sleep:<ms>, msg:<text>, msgb64:<base64>, and for commanders also
// voice:<file_id> and photo:<file_id>.
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/enerlytic/internal/commander"
	ctxpkg "github.com/stupiduntilnot/enerlytic/internal/context"
	modelpkg "github.com/stupiduntilnot/enerlytic/internal/model"
)

// DummyChatID is the chat and sender id of every scripted update.
const DummyChatID int64 = 1

// pngHeader is enough for http.DetectContentType to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type action struct {
	kind string
	arg  string
}

var actionKinds = []string{"err", "sleep", "msg", "msgb64", "voice", "photo"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
next:
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		for _, kind := range actionKinds {
			if strings.HasPrefix(token, kind+":") {
				actions = append(actions, action{kind: kind, arg: strings.TrimPrefix(token, kind+":")})
				continue next
			}
		}
		return nil, fmt.Errorf("invalid dummy action: %s", token)
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func sleepCtx(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func decodeB64(arg string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(arg)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Commander is a scripted chat transport. Sent messages are recorded.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	sent     []string
	actions  []string
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	msg := &cmdpkg.Message{
		From: &cmdpkg.User{ID: DummyChatID},
		Chat: cmdpkg.Chat{ID: DummyChatID},
		Date: time.Now().Unix(),
	}
	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return nil, sleepCtx(ctx, a.arg)
	case "msg":
		text := a.arg
		msg.Text = &text
	case "msgb64":
		text, err := decodeB64(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy commander msgb64 decode failed: %w", err)
		}
		msg.Text = &text
	case "voice":
		msg.Voice = &cmdpkg.Voice{FileID: emptyAs(a.arg, "voice-1"), MimeType: "audio/ogg"}
	case "photo":
		msg.Photo = []cmdpkg.PhotoSize{{FileID: emptyAs(a.arg, "photo-1"), Width: 640, Height: 480}}
	default:
		return nil, nil
	}

	c.mu.Lock()
	c.updateID++
	id := c.updateID
	c.mu.Unlock()
	msg.MessageID = id
	return []cmdpkg.Update{{UpdateID: id, Message: msg}}, nil
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()
	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := sleepCtx(ctx, a.arg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return nil
}

func (c *Commander) SendChatAction(ctx context.Context, chatID int64, action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, action)
	return nil
}

// DownloadFile returns fake audio for voice ids and a PNG header for photo ids.
func (c *Commander) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if strings.HasPrefix(fileID, "photo") {
		return append([]byte(nil), pngHeader...), nil
	}
	return []byte("dummy-audio:" + fileID), nil
}

// Sent returns a copy of all texts passed to SendMessage.
func (c *Commander) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Provider is a scripted completion provider. err:<kind> yields a
// *model.Failure when kind names a failure kind.
type Provider struct {
	mu     sync.Mutex
	model  string
	script *scriptRunner
	calls  int
}

func NewProvider(model, script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: runner}, nil
}

func (p *Provider) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	a := p.script.next()
	p.calls++
	p.mu.Unlock()

	tokens := len(messages)
	switch a.kind {
	case "err":
		return modelpkg.CompletionResponse{}, scriptedFailure(a.arg, "dummy provider")
	case "sleep":
		if err := sleepCtx(ctx, a.arg); err != nil {
			return modelpkg.CompletionResponse{}, &modelpkg.Failure{Kind: modelpkg.FailureTimeout, Err: err}
		}
		return modelpkg.CompletionResponse{Content: "dummy-after-sleep", InputTokens: tokens, OutputTokens: 1}, nil
	case "msg":
		return modelpkg.CompletionResponse{Content: a.arg, InputTokens: tokens, OutputTokens: 1}, nil
	case "msgb64":
		text, err := decodeB64(a.arg)
		if err != nil {
			return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return modelpkg.CompletionResponse{Content: text, InputTokens: tokens, OutputTokens: 1}, nil
	default:
		return modelpkg.CompletionResponse{Content: emptyAs(a.arg, "dummy-ok"), InputTokens: tokens, OutputTokens: 1}, nil
	}
}

// Calls reports how many completions were requested.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Transcriber is a scripted speech-to-text backend.
type Transcriber struct {
	mu     sync.Mutex
	script *scriptRunner
}

func NewTranscriber(script string) (*Transcriber, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Transcriber{script: runner}, nil
}

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	t.mu.Lock()
	a := t.script.next()
	t.mu.Unlock()
	switch a.kind {
	case "err":
		return "", scriptedFailure(a.arg, "dummy transcriber")
	case "sleep":
		return "", sleepCtx(ctx, a.arg)
	case "msg":
		return a.arg, nil
	case "msgb64":
		return decodeB64(a.arg)
	default:
		return "dummy transcript", nil
	}
}

func scriptedFailure(arg, source string) error {
	kind := modelpkg.FailureKind(emptyAs(arg, string(modelpkg.FailureUnclassified)))
	err := fmt.Errorf("%s error class=%s", source, kind)
	switch kind {
	case modelpkg.FailureAuth, modelpkg.FailureQuota, modelpkg.FailureConnectivity,
		modelpkg.FailureTimeout, modelpkg.FailureUnclassified:
		return &modelpkg.Failure{Kind: kind, Err: err}
	}
	return err
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
