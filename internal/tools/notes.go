package tools

import (
	"context"
	"fmt"
	"strings"

	"reeve/internal/memory"
)

// NoteStore is the slice of the memory store the note tools need.
type NoteStore interface {
	AddNote(ctx context.Context, content string) error
	SearchNotes(ctx context.Context, query string, limit int) ([]memory.Note, error)
}

// Remember stores a fact for later recall.
type Remember struct {
	Store NoteStore
}

func (r *Remember) Name() string        { return "remember" }
func (r *Remember) Description() string { return "Store a fact or note for later recall." }

func (r *Remember) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The fact to remember.",
			},
		},
		"required": []string{"text"},
	}
}

func (r *Remember) Match(input string) bool {
	return strings.HasPrefix(strings.ToLower(input), "remember ")
}

func (r *Remember) Execute(ctx context.Context, params map[string]any) (string, error) {
	text := StringParam(params, "text")
	if text == "" {
		// Fallback path: strip the leading verb from the raw input.
		raw := StringParam(params, FallbackParam)
		if idx := strings.Index(strings.ToLower(raw), "remember "); idx >= 0 {
			text = strings.TrimSpace(raw[idx+len("remember "):])
		}
	}
	if text == "" {
		return "", fmt.Errorf("remember: text parameter is required")
	}

	if err := r.Store.AddNote(ctx, text); err != nil {
		return "", fmt.Errorf("remember: %w", err)
	}
	return fmt.Sprintf("Noted: %s", text), nil
}

// Recall searches previously remembered facts.
type Recall struct {
	Store NoteStore
}

func (r *Recall) Name() string        { return "recall" }
func (r *Recall) Description() string { return "Search previously remembered facts and notes." }

func (r *Recall) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Substring to search for. Empty returns the most recent notes.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum notes to return (default 10).",
			},
		},
	}
}

func (r *Recall) Match(input string) bool {
	q := strings.ToLower(input)
	return strings.HasPrefix(q, "recall ") || strings.HasPrefix(q, "what do you remember")
}

func (r *Recall) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := StringParam(params, "query")
	if query == "" {
		raw := strings.ToLower(StringParam(params, FallbackParam))
		query = strings.TrimSpace(strings.TrimPrefix(raw, "recall "))
		query = strings.TrimSpace(strings.TrimPrefix(query, "what do you remember about "))
		query = strings.TrimSpace(strings.TrimPrefix(query, "what do you remember"))
	}

	notes, err := r.Store.SearchNotes(ctx, query, IntParam(params, "limit"))
	if err != nil {
		return "", fmt.Errorf("recall: %w", err)
	}
	if len(notes) == 0 {
		return "I don't have any notes matching that.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I remember %d thing(s):\n", len(notes))
	for _, n := range notes {
		fmt.Fprintf(&b, "- %s (%s)\n", n.Content, n.CreatedAt.Format("2006-01-02"))
	}
	return b.String(), nil
}
