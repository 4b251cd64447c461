// Package brain wires the full request pipeline: conversation context →
// prompt → tiered resolution → dispatch. It is the one place the other
// packages meet; everything below it is independently testable.
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"reeve/internal/cache"
	"reeve/internal/dispatch"
	"reeve/internal/llm"
	"reeve/internal/memory"
	"reeve/internal/prompt"
	"reeve/internal/resolver"
	"reeve/internal/tools"
)

// failsafeReply is returned when the pipeline itself blows up. Ask
// never returns an error and never lets a panic escape.
const failsafeReply = "Something went wrong handling that request."

// ConversationStore is the slice of the memory store the pipeline
// needs. Nil is allowed: the brain then runs stateless.
type ConversationStore interface {
	AddMessage(ctx context.Context, conversationID, role, content string) error
	RecentContext(ctx context.Context, conversationID string, limit int) ([]memory.Message, error)
}

// Response is the outcome of one Ask. Text is always populated.
type Response struct {
	RequestID string         `json:"request_id"`
	Text      string         `json:"text"`
	Tier      string         `json:"tier"`
	FromCache bool           `json:"from_cache"`
	State     dispatch.State `json:"state"`
	Tool      string         `json:"tool,omitempty"`
}

// Brain runs the request pipeline.
type Brain struct {
	chain        *resolver.Chain
	dispatcher   *dispatch.Dispatcher
	registry     *tools.Registry
	store        ConversationStore
	contextLimit int
	timeout      time.Duration
	model        string
	logger       *slog.Logger

	mu          sync.Mutex
	requests    int
	lastRequest time.Time
}

// Option configures a Brain.
type Option func(*Brain)

// WithMemory attaches a conversation store; contextLimit is how many
// recent turns feed prompt construction.
func WithMemory(store ConversationStore, contextLimit int) Option {
	return func(b *Brain) {
		b.store = store
		if contextLimit > 0 {
			b.contextLimit = contextLimit
		}
	}
}

// WithPipelineTimeout bounds one whole Ask, end to end.
func WithPipelineTimeout(d time.Duration) Option {
	return func(b *Brain) { b.timeout = d }
}

// WithModel records the default model name for diagnostics.
func WithModel(name string) Option {
	return func(b *Brain) { b.model = name }
}

// New assembles a brain. All collaborators are explicit; there is no
// package-level state.
func New(chain *resolver.Chain, registry *tools.Registry, logger *slog.Logger, opts ...Option) *Brain {
	b := &Brain{
		chain:        chain,
		dispatcher:   dispatch.New(registry, logger),
		registry:     registry,
		contextLimit: 10,
		timeout:      120 * time.Second,
		logger:       logger,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Ask runs one request through the pipeline and always produces a
// user-visible reply. Pipeline failures degrade to a fixed failsafe
// string; they are logged, never surfaced as errors or panics.
func (b *Brain) Ask(ctx context.Context, conversationID, input string, progress llm.Progress) (resp Response) {
	requestID := uuid.NewString()
	resp = Response{RequestID: requestID, Text: failsafeReply}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("pipeline panicked",
				"request_id", requestID, "panic", r)
			resp.Text = failsafeReply
			resp.State = dispatch.StateToolFailed
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	b.touch()

	steps := b.previousSteps(ctx, conversationID)
	built := prompt.Build(input, steps, b.registry.Descriptors())

	result := b.chain.Resolve(ctx, built, progress)
	out := b.dispatcher.Dispatch(ctx, result.Text, input)

	b.record(ctx, conversationID, input, out.Text)

	b.logger.Info("request handled",
		"request_id", requestID,
		"conversation_id", conversationID,
		"prompt_hash", cache.Key(built),
		"tier", result.Tier,
		"from_cache", result.FromCache,
		"state", out.State,
		"tool", out.Tool)

	resp.Text = out.Text
	resp.Tier = result.Tier
	resp.FromCache = result.FromCache
	resp.State = out.State
	resp.Tool = out.Tool
	return resp
}

// previousSteps formats recent conversation turns for the prompt. A
// failing or absent store yields no steps, never an error.
func (b *Brain) previousSteps(ctx context.Context, conversationID string) []string {
	if b.store == nil || conversationID == "" {
		return nil
	}

	msgs, err := b.store.RecentContext(ctx, conversationID, b.contextLimit)
	if err != nil {
		b.logger.Warn("load conversation context", "error", err)
		return nil
	}

	steps := make([]string, 0, len(msgs))
	for _, m := range msgs {
		steps = append(steps, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return steps
}

// record appends both turns to the conversation. Failures are logged
// only; a reply that cannot be remembered is still a reply.
func (b *Brain) record(ctx context.Context, conversationID, input, reply string) {
	if b.store == nil || conversationID == "" {
		return
	}
	if err := b.store.AddMessage(ctx, conversationID, "user", input); err != nil {
		b.logger.Warn("record user turn", "error", err)
	}
	if err := b.store.AddMessage(ctx, conversationID, "assistant", reply); err != nil {
		b.logger.Warn("record assistant turn", "error", err)
	}
}

func (b *Brain) touch() {
	b.mu.Lock()
	b.requests++
	b.lastRequest = time.Now()
	b.mu.Unlock()
}

// Tools exposes the registry for listing surfaces.
func (b *Brain) Tools() *tools.Registry {
	return b.registry
}

// Stats reports runtime counters for diagnostics and presence
// announcements.
func (b *Brain) Stats() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	last := ""
	if !b.lastRequest.IsZero() {
		last = b.lastRequest.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"requests":      b.requests,
		"last_request":  last,
		"default_model": b.model,
		"tools":         b.registry.Len(),
	}
}
