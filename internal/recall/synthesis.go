package recall

import (
	"context"
	"strings"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/llm"
)

const synthesisSystem = "You rewrite memory recall notes into flowing prose the assistant can absorb at a glance. Keep every concrete detail. Do not invent anything. Reply with the rewritten notes only."

// Synthesizer optionally rewrites structured recall into narrative or
// factual prose. The "structured" style and a missing provider both pass
// the raw text through.
type Synthesizer struct {
	provider llm.Provider
	style    string
}

// NewSynthesizer builds a synthesizer; provider may be nil.
func NewSynthesizer(provider llm.Provider, style string) *Synthesizer {
	return &Synthesizer{provider: provider, style: style}
}

// Synthesize rewrites the recall body. Commitment lines survive verbatim
// and the token-use footer is re-appended. Any failure returns the raw
// recall unchanged.
func (s *Synthesizer) Synthesize(ctx context.Context, raw string) string {
	if raw == "" || s.style == "" || s.style == "structured" || s.provider == nil {
		return raw
	}

	body, commitments, footer := splitRecall(raw)
	if strings.TrimSpace(body) == "" {
		return raw
	}

	prompt := "Rewrite these recall notes as " + s.style + " prose:\n\n" + body
	rewritten, err := s.provider.SimpleMessage(ctx, synthesisSystem, prompt)
	if err != nil || strings.TrimSpace(rewritten) == "" {
		L_warn("recall: synthesis failed, using raw recall", "error", err)
		return raw
	}

	var out strings.Builder
	out.WriteString("## Recalled context\n")
	out.WriteString(strings.TrimSpace(rewritten))
	if commitments != "" {
		out.WriteString("\n\n")
		out.WriteString(commitments)
	}
	if footer != "" {
		out.WriteString("\n")
		out.WriteString(footer)
	}
	return out.String()
}

// splitRecall separates the synthesizable body from the commitments section
// and the footer line. Commitments must reach the model word for word, so
// they never pass through the rewrite.
func splitRecall(raw string) (body, commitments, footer string) {
	lines := strings.Split(raw, "\n")

	var bodyLines, commitLines []string
	inCommitments := false
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "[recall:"):
			footer = line
			inCommitments = false
		case strings.HasPrefix(line, "Open commitments:"):
			inCommitments = true
			commitLines = append(commitLines, line)
		case inCommitments && strings.HasPrefix(line, "- "):
			commitLines = append(commitLines, line)
		case line == "## Recalled context":
			// header re-added by the caller
		default:
			inCommitments = false
			bodyLines = append(bodyLines, line)
		}
	}

	body = strings.TrimSpace(strings.Join(bodyLines, "\n"))
	commitments = strings.Join(commitLines, "\n")
	return body, commitments, footer
}
