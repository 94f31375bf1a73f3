package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/knoguchi/learnpath/internal/llm"
	"github.com/knoguchi/learnpath/internal/ranking"
)

const maxSummaryInput = 8000

// SummarizeRequest asks for a study summary of free text and/or result cards.
type SummarizeRequest struct {
	Text      string               `json:"text"`
	Resources []ranking.ResultCard `json:"resources"`
}

// Summary is the generated study note.
type Summary struct {
	Summary string `json:"summary"`
	Model   string `json:"model"`
}

// Summarizer produces short study summaries with an LLM. A nil or disabled
// Summarizer returns ErrNotImplemented.
type Summarizer struct {
	llm     llm.LLM
	enabled bool
	logger  *slog.Logger
}

// NewSummarizer creates a summarizer. client may be nil when disabled.
func NewSummarizer(client llm.LLM, enabled bool, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{llm: client, enabled: enabled, logger: logger}
}

// Enabled reports whether Summarize can do any work.
func (s *Summarizer) Enabled() bool {
	return s != nil && s.enabled && s.llm != nil
}

// Summarize generates a summary for the request.
func (s *Summarizer) Summarize(ctx context.Context, req SummarizeRequest) (Summary, error) {
	if !s.Enabled() {
		return Summary{}, ErrNotImplemented
	}

	prompt := buildSummaryPrompt(req)
	if prompt == "" {
		return Summary{}, fmt.Errorf("%w: nothing to summarize", ErrInvalidQuery)
	}

	out, err := s.llm.Generate(ctx, prompt, llm.GenerateOptions{
		SystemPrompt: "You write concise study notes for learners. Answer in at most five sentences.",
		Temperature:  0.2,
		MaxTokens:    512,
	})
	if err != nil {
		return Summary{}, errors.Join(ErrInferenceFailed, fmt.Errorf("generate summary: %w", err))
	}

	return Summary{Summary: strings.TrimSpace(out), Model: s.llm.ModelName()}, nil
}

func buildSummaryPrompt(req SummarizeRequest) string {
	text := strings.TrimSpace(req.Text)
	if text == "" && len(req.Resources) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Summarize what a learner will get out of the following material.\n\n")
	if text != "" {
		text = truncateUTF8(text, maxSummaryInput)
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	for i, r := range req.Resources {
		fmt.Fprintf(&sb, "[%d] %s", i+1, r.Title)
		if r.URL != "" {
			fmt.Fprintf(&sb, " (%s)", r.URL)
		}
		if r.Why != "" {
			sb.WriteString(" - ")
			sb.WriteString(r.Why)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
