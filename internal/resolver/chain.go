// Package resolver turns a prompt into reply text by consulting the
// response cache and then a fixed ladder of backend tiers. It never
// returns an error: every failure falls through to the next tier, and
// exhausting the ladder yields a fixed sentinel reply.
package resolver

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"reeve/internal/cache"
	"reeve/internal/llm"
)

// NoBackendReply is the fixed sentinel returned when every tier fails.
// It is recognizable, distinct from normal content, and never cached.
const NoBackendReply = "no backend available"

// ErrorSentinel marks a backend reply that is an in-band error report.
// Such replies are treated as tier failures and never cached.
const ErrorSentinel = "ERROR:"

// TierCache names the pseudo-tier for cache hits.
const TierCache = "cache"

// TierNone names the exhausted ladder.
const TierNone = "none"

// ChatClient is the direct model endpoint (the final tier).
// *llm.OllamaClient satisfies it.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []llm.Message, progress llm.Progress) (string, error)
}

// Result describes how a prompt was resolved. Tier and FromCache exist
// for logging and tests; callers generally use only Text.
type Result struct {
	Text      string
	Tier      string
	FromCache bool
}

// Chain resolves prompts through the cache and the tier ladder.
type Chain struct {
	cache       *cache.Cache
	backends    []Backend // tiers (a) and (b), in priority order; may be empty
	chat        ChatClient
	model       string
	chatTier    string
	tierTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithBackend appends an opaque backend tier. Order of calls is tier
// priority order.
func WithBackend(b Backend) Option {
	return func(c *Chain) { c.backends = append(c.backends, b) }
}

// WithChat sets the direct model endpoint (the last-resort tier) and
// the model it should use.
func WithChat(client ChatClient, model string) Option {
	return func(c *Chain) {
		c.chat = client
		c.model = model
	}
}

// WithTierTimeout bounds each individual tier attempt. A stuck tier
// must never block the tiers below it.
func WithTierTimeout(d time.Duration) Option {
	return func(c *Chain) { c.tierTimeout = d }
}

// New creates a chain over the given cache.
func New(responseCache *cache.Cache, logger *slog.Logger, opts ...Option) *Chain {
	c := &Chain{
		cache:       responseCache,
		chatTier:    "ollama",
		tierTimeout: 30 * time.Second,
		logger:      logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Resolve produces reply text for the prompt. The cache is consulted
// first — a hit returns immediately with zero network calls. Otherwise
// tiers are attempted in fixed order, each isolated: any failure
// (error, empty text, in-band error sentinel) is logged and falls
// through. Successful non-cache replies are cached write-through.
// progress, if non-nil, receives streaming updates from the model tier.
func (c *Chain) Resolve(ctx context.Context, prompt string, progress llm.Progress) Result {
	key := cache.Key(prompt)

	if text, ok := c.cache.Get(key); ok {
		c.logger.Debug("cache hit", "prompt_hash", key)
		return Result{Text: text, Tier: TierCache, FromCache: true}
	}

	for _, b := range c.backends {
		if text, ok := c.tryBackend(ctx, b, prompt, key); ok {
			c.cache.Put(key, text)
			return Result{Text: text, Tier: b.Name()}
		}
	}

	if c.chat != nil {
		if text, ok := c.tryChat(ctx, prompt, key, progress); ok {
			c.cache.Put(key, text)
			return Result{Text: text, Tier: c.chatTier}
		}
	}

	c.logger.Warn("all resolution tiers failed", "prompt_hash", key)
	return Result{Text: NoBackendReply, Tier: TierNone}
}

// tryBackend runs one opaque tier with its own timeout.
func (c *Chain) tryBackend(ctx context.Context, b Backend, prompt, key string) (string, bool) {
	tierCtx, cancel := context.WithTimeout(ctx, c.tierTimeout)
	defer cancel()

	text, err := b.Resolve(tierCtx, prompt)
	if err != nil {
		c.logger.Warn("tier failed", "tier", b.Name(), "prompt_hash", key, "error", err)
		return "", false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		c.logger.Warn("tier returned empty reply", "tier", b.Name(), "prompt_hash", key)
		return "", false
	}
	if strings.HasPrefix(text, ErrorSentinel) {
		// In-band error report: a failure wearing a reply's clothes.
		c.logger.Warn("tier returned error sentinel", "tier", b.Name(), "prompt_hash", key)
		return "", false
	}

	return text, true
}

// tryChat runs the direct model tier.
func (c *Chain) tryChat(ctx context.Context, prompt, key string, progress llm.Progress) (string, bool) {
	tierCtx, cancel := context.WithTimeout(ctx, c.tierTimeout)
	defer cancel()

	text, err := c.chat.Chat(tierCtx, c.model,
		[]llm.Message{{Role: "user", Content: prompt}}, progress)
	if err != nil {
		c.logger.Warn("tier failed", "tier", c.chatTier, "prompt_hash", key, "error", err)
		return "", false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		c.logger.Warn("tier returned empty reply", "tier", c.chatTier, "prompt_hash", key)
		return "", false
	}

	return text, true
}
