// Package recall assembles the memory context injected into the first user
// message of a session and returned by the memory_search tool: facts,
// episodes, vector snippets and open commitments under a token budget.
package recall

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/memory"
	"github.com/lucyd-ai/lucyd/internal/tokens"
)

// Config holds recall tuning.
type Config struct {
	Budget    int    `toml:"budget"`     // token budget for assembled recall
	FactStyle string `toml:"fact_style"` // "compact" or "natural"
	Style     string `toml:"style"`      // "structured", "narrative" or "factual"

	PriorityFacts       int `toml:"priority_facts"`
	PriorityEpisodes    int `toml:"priority_episodes"`
	PriorityVector      int `toml:"priority_vector"`
	PriorityCommitments int `toml:"priority_commitments"`

	MaxFacts        int     `toml:"max_facts"`
	MaxEpisodes     int     `toml:"max_episodes"`
	MaxVector       int     `toml:"max_vector"`
	EpisodeDaysBack int     `toml:"episode_days_back"`
	DecayRate       float64 `toml:"decay_rate"` // per-day decay for vector scores
	MaxVectorRows   int     `toml:"max_vector_rows"`
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		Budget:              1000,
		FactStyle:           "compact",
		Style:               "structured",
		PriorityFacts:       15,
		PriorityEpisodes:    25,
		PriorityVector:      35,
		PriorityCommitments: 40,
		MaxFacts:            15,
		MaxEpisodes:         3,
		MaxVector:           4,
		EpisodeDaysBack:     90,
		DecayRate:           0.02,
		MaxVectorRows:       5000,
	}
}

// Block is one prioritized recall section. Higher priority is kept first
// when the budget runs out.
type Block struct {
	Priority  int
	Section   string
	Text      string
	EstTokens int
}

// NewBlock builds a block with the len/4 token estimate.
func NewBlock(priority int, section, text string) Block {
	return Block{
		Priority:  priority,
		Section:   section,
		Text:      text,
		EstTokens: tokens.RoughEstimate(text),
	}
}

// Engine runs recall over the memory store.
type Engine struct {
	store  *memory.Store
	config Config
	embed  memory.EmbedFunc // nil disables the vector block
}

// NewEngine creates a recall engine. embed may be nil.
func NewEngine(store *memory.Store, cfg Config, embed memory.EmbedFunc) *Engine {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultConfig().Budget
	}
	return &Engine{store: store, config: cfg, embed: embed}
}

// Recall assembles the budgeted recall text for a query, or "" when nothing
// is known. Failures inside block construction degrade to fewer sections.
func (e *Engine) Recall(ctx context.Context, query string) string {
	blocks := e.BuildBlocks(ctx, query)
	if len(blocks) == 0 {
		return ""
	}
	return InjectRecall(blocks, e.config.Budget)
}

// BuildBlocks constructs up to four blocks for a query.
func (e *Engine) BuildBlocks(ctx context.Context, query string) []Block {
	var blocks []Block

	if text := e.factBlock(query); text != "" {
		blocks = append(blocks, NewBlock(e.config.PriorityFacts, "facts", text))
	}
	if text := e.episodeBlock(query); text != "" {
		blocks = append(blocks, NewBlock(e.config.PriorityEpisodes, "episodes", text))
	}
	if text := e.vectorBlock(ctx, query); text != "" {
		blocks = append(blocks, NewBlock(e.config.PriorityVector, "vector", text))
	}
	if text := e.commitmentBlock(); text != "" {
		blocks = append(blocks, NewBlock(e.config.PriorityCommitments, "commitments", text))
	}

	return blocks
}

// InjectRecall sorts blocks by priority descending and greedily includes
// those whose estimate fits the remaining budget. The footer names included
// and dropped sections so the agent knows what the memory tools still hold.
func InjectRecall(blocks []Block, budget int) string {
	if len(blocks) == 0 {
		return ""
	}
	sorted := make([]Block, len(blocks))
	copy(sorted, blocks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	var included, dropped []string
	var parts []string
	used := 0
	for _, b := range sorted {
		if used+b.EstTokens <= budget {
			parts = append(parts, b.Text)
			included = append(included, b.Section)
			used += b.EstTokens
		} else {
			dropped = append(dropped, b.Section)
		}
	}

	if len(parts) == 0 {
		return ""
	}

	footer := fmt.Sprintf("[recall: %s — ~%d tokens", strings.Join(included, ", "), used)
	if len(dropped) > 0 {
		footer += fmt.Sprintf("; dropped %s, fetch via memory tools", strings.Join(dropped, ", "))
	}
	footer += "]"

	return "## Recalled context\n" + strings.Join(parts, "\n\n") + "\n" + footer
}

// SessionStart builds the unconditional warm-up recall for a fresh session:
// recently accessed facts, recent episodes and all open commitments.
func (e *Engine) SessionStart(ctx context.Context) string {
	var blocks []Block

	facts, err := e.store.RecentFacts(e.config.MaxFacts)
	if err != nil {
		L_warn("recall: recent facts failed", "error", err)
	} else if len(facts) > 0 {
		blocks = append(blocks, NewBlock(e.config.PriorityFacts, "facts", e.formatFacts(facts)))
	}

	episodes, err := e.store.RecentEpisodes(e.config.MaxEpisodes)
	if err != nil {
		L_warn("recall: recent episodes failed", "error", err)
	} else if len(episodes) > 0 {
		blocks = append(blocks, NewBlock(e.config.PriorityEpisodes, "episodes", formatEpisodes(episodes)))
	}

	if text := e.commitmentBlock(); text != "" {
		blocks = append(blocks, NewBlock(e.config.PriorityCommitments, "commitments", text))
	}

	return InjectRecall(blocks, e.config.Budget)
}

// --- block builders ---

func (e *Engine) factBlock(query string) string {
	entities := e.ExtractEntities(query)
	if len(entities) == 0 {
		return ""
	}
	facts, err := e.store.LookupFacts(entities, e.config.MaxFacts)
	if err != nil {
		L_warn("recall: fact lookup failed", "error", err)
		return ""
	}
	if len(facts) == 0 {
		return ""
	}
	return e.formatFacts(facts)
}

func (e *Engine) formatFacts(facts []memory.Fact) string {
	var b strings.Builder
	b.WriteString("Known facts:\n")
	for _, f := range facts {
		if e.config.FactStyle == "natural" {
			fmt.Fprintf(&b, "- %s — %s: %s\n", f.Entity, f.Attribute, f.Value)
		} else {
			fmt.Fprintf(&b, "- %s.%s: %s\n", f.Entity, f.Attribute, f.Value)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) episodeBlock(query string) string {
	var keywords []string
	for _, w := range tokenizeWords(query) {
		if len(w) > 3 {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) == 0 {
		return ""
	}
	episodes, err := e.store.SearchEpisodes(keywords, e.config.EpisodeDaysBack, e.config.MaxEpisodes)
	if err != nil {
		L_warn("recall: episode search failed", "error", err)
		return ""
	}
	if len(episodes) == 0 {
		return ""
	}
	return formatEpisodes(episodes)
}

func formatEpisodes(episodes []memory.Episode) string {
	var b strings.Builder
	b.WriteString("Past conversations:\n")
	for _, ep := range episodes {
		fmt.Fprintf(&b, "- %s: %s", ep.Date, ep.Summary)
		if len(ep.Topics) > 0 {
			fmt.Fprintf(&b, " (topics: %s)", strings.Join(ep.Topics, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) vectorBlock(ctx context.Context, query string) string {
	if e.embed == nil {
		return ""
	}
	results, err := e.store.SearchChunks(ctx, query, e.config.MaxVector*2, e.embed, e.config.MaxVectorRows)
	if err != nil {
		L_warn("recall: chunk search failed", "error", err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}

	// age-decay the scores and re-rank
	now := time.Now()
	for i := range results {
		days := now.Sub(results[i].CreatedAt).Hours() / 24
		if days < 0 {
			days = 0
		}
		results[i].Score *= math.Exp(-e.config.DecayRate * days)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > e.config.MaxVector {
		results = results[:e.config.MaxVector]
	}

	var b strings.Builder
	b.WriteString("Related notes:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- (%s) %s\n", r.Path, strings.TrimSpace(r.Text))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) commitmentBlock() string {
	open, err := e.store.ListOpenCommitments()
	if err != nil {
		L_warn("recall: commitments failed", "error", err)
		return ""
	}
	if len(open) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Open commitments:\n")
	for _, c := range open {
		fmt.Fprintf(&b, "- %s: %s", c.Subject, c.Obligation)
		if c.Deadline != "" {
			fmt.Fprintf(&b, " (by %s)", c.Deadline)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// --- entity extraction ---

var wordPattern = regexp.MustCompile(`[a-z0-9']+`)

func tokenizeWords(query string) []string {
	raw := wordPattern.FindAllString(strings.ToLower(strings.ReplaceAll(query, "-", "")), -1)
	words := raw[:0]
	for _, w := range raw {
		w = strings.TrimSuffix(w, "'s")
		w = strings.ReplaceAll(w, "'", "")
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

// ExtractEntities probes lowercased unigrams, bigrams and trigrams of the
// query against the facts and alias tables; the resolved canonicals form
// the lookup set.
func (e *Engine) ExtractEntities(query string) []string {
	words := tokenizeWords(query)
	if len(words) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var entities []string
	probe := func(candidate string) {
		if !e.store.HasEntity(candidate) {
			return
		}
		canonical := e.store.ResolveAlias(candidate)
		if canonical != "" && !seen[canonical] {
			seen[canonical] = true
			entities = append(entities, canonical)
		}
	}

	for i := range words {
		probe(words[i])
		if i+1 < len(words) {
			probe(words[i] + "_" + words[i+1])
		}
		if i+2 < len(words) {
			probe(words[i] + "_" + words[i+1] + "_" + words[i+2])
		}
	}
	return entities
}
