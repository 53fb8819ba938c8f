// Package prompt assembles the tiered system-prompt blocks from workspace
// files, tool descriptions and per-turn dynamic context.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// Config selects workspace files per tier. TierOverrides map an override
// name (e.g. "operational" for cron traffic) to a lighter file selection.
type Config struct {
	PersonaFiles []string `toml:"persona_files"` // stable tier
	MemoryFiles  []string `toml:"memory_files"`  // semi-stable tier
	SkillsDir    string   `toml:"skills_dir,omitempty"`
	AlwaysSkills []string `toml:"always_skills,omitempty"` // skill bodies always included

	TierOverrides map[string]Selection `toml:"tier_overrides,omitempty"`
}

// Selection is a file subset used by a tier override.
type Selection struct {
	PersonaFiles []string `toml:"persona_files"`
	MemoryFiles  []string `toml:"memory_files"`
}

// Request carries the per-turn inputs for one assembly.
type Request struct {
	Tier             string // override name, "" for the default selection
	Source           string
	RecallText       string
	VoiceHint        bool
	ToolDescriptions []ToolDescription
	Now              time.Time
}

// ToolDescription is the (name, brief) pair rendered into the stable block.
type ToolDescription struct {
	Name  string
	Brief string
}

// Assembler builds system blocks, reading workspace files fresh on every
// call so edits take effect without a restart.
type Assembler struct {
	workspace string
	config    Config
}

// NewAssembler creates an assembler over a workspace directory.
func NewAssembler(workspace string, cfg Config) *Assembler {
	return &Assembler{workspace: workspace, config: cfg}
}

// Build produces the ordered block list: stable, semi-stable, dynamic.
func (a *Assembler) Build(req Request) []types.SystemBlock {
	persona := a.config.PersonaFiles
	memoryFiles := a.config.MemoryFiles
	if req.Tier != "" {
		if sel, ok := a.config.TierOverrides[req.Tier]; ok {
			persona = sel.PersonaFiles
			memoryFiles = sel.MemoryFiles
		} else {
			L_warn("prompt: unknown tier override, using defaults", "tier", req.Tier)
		}
	}

	var blocks []types.SystemBlock

	if stable := a.buildStable(persona, req.ToolDescriptions); stable != "" {
		blocks = append(blocks, types.SystemBlock{Text: stable, Tier: types.TierStable})
	}
	if semi := a.buildSemiStable(memoryFiles); semi != "" {
		blocks = append(blocks, types.SystemBlock{Text: semi, Tier: types.TierSemiStable})
	}
	if dynamic := a.buildDynamic(req); dynamic != "" {
		blocks = append(blocks, types.SystemBlock{Text: dynamic, Tier: types.TierDynamic})
	}

	return blocks
}

func (a *Assembler) buildStable(personaFiles []string, tools []ToolDescription) string {
	var parts []string
	parts = append(parts, a.readFiles(personaFiles)...)

	if len(tools) > 0 {
		var b strings.Builder
		b.WriteString("## Available tools\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Brief)
		}
		parts = append(parts, b.String())
	}

	return strings.Join(parts, "\n\n")
}

func (a *Assembler) buildSemiStable(memoryFiles []string) string {
	var parts []string
	parts = append(parts, a.readFiles(memoryFiles)...)

	if a.config.SkillsDir != "" {
		if index, bodies := a.readSkills(); index != "" {
			parts = append(parts, index)
			parts = append(parts, bodies...)
		}
	}

	return strings.Join(parts, "\n\n")
}

func (a *Assembler) buildDynamic(req Request) string {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("Current date and time: %s", now.Format("Monday, 2 January 2006 15:04 MST")))

	switch req.Source {
	case types.SourceSystem:
		parts = append(parts, "This message originates from an automated system task, not a person. Respond for the machine consumer; no pleasantries.")
	case types.SourceHTTP:
		parts = append(parts, "This message arrived via the HTTP API. The reply is returned to the caller, not sent over chat.")
	case types.SourceCron:
		parts = append(parts, "This message was triggered by a schedule.")
	}

	if req.RecallText != "" {
		parts = append(parts, req.RecallText)
	}
	if req.VoiceHint {
		parts = append(parts, "The user sent a voice message. Consider replying with the voice tool as well as text.")
	}

	return strings.Join(parts, "\n\n")
}

// PersonaVoice returns the first persona file's text: the voice and tone of
// the agent without the rest of the identity stack. Episode summaries use it
// so they read in the agent's register.
func (a *Assembler) PersonaVoice() string {
	if len(a.config.PersonaFiles) == 0 {
		return ""
	}
	parts := a.readFiles(a.config.PersonaFiles[:1])
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// readFiles reads workspace-relative files, skipping unreadable ones with a
// log line.
func (a *Assembler) readFiles(names []string) []string {
	var parts []string
	for _, name := range names {
		path := filepath.Join(a.workspace, name)
		data, err := os.ReadFile(path)
		if err != nil {
			L_warn("prompt: unreadable workspace file", "path", path, "error", err)
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			parts = append(parts, text)
		}
	}
	return parts
}

// readSkills builds the skills index plus the always-on skill bodies.
func (a *Assembler) readSkills() (string, []string) {
	dir := filepath.Join(a.workspace, a.config.SkillsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil
	}

	always := make(map[string]bool, len(a.config.AlwaysSkills))
	for _, name := range a.config.AlwaysSkills {
		always[name] = true
	}

	var names []string
	var bodies []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		names = append(names, name)
		if always[name] {
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				L_warn("prompt: unreadable skill", "name", name, "error", err)
				continue
			}
			bodies = append(bodies, strings.TrimSpace(string(data)))
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)

	return "## Skills\nAvailable skills: " + strings.Join(names, ", "), bodies
}
