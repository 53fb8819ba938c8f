// Package paths defines the on-disk layout of a lucyd agent instance.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths resolves files under a single agent root directory.
//
//	state/lucyd.pid, state/control.pipe, state/status.json, state/monitor.json
//	sessions/<contact>.json, sessions/<uuid>.json, sessions/<uuid>.<date>.jsonl
//	cost.db, memory.db
//	workspace/  (persona and memory markdown files)
//	spool/      (downloaded attachments)
type Paths struct {
	Root string
}

// New creates a Paths rooted at dir, expanding a leading "~".
func New(dir string) Paths {
	if len(dir) > 1 && dir[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[1:])
		}
	}
	return Paths{Root: dir}
}

func (p Paths) StateDir() string     { return filepath.Join(p.Root, "state") }
func (p Paths) PIDFile() string      { return filepath.Join(p.StateDir(), "lucyd.pid") }
func (p Paths) ControlPipe() string  { return filepath.Join(p.StateDir(), "control.pipe") }
func (p Paths) StatusFile() string   { return filepath.Join(p.StateDir(), "status.json") }
func (p Paths) MonitorFile() string  { return filepath.Join(p.StateDir(), "monitor.json") }
func (p Paths) SessionsDir() string  { return filepath.Join(p.Root, "sessions") }
func (p Paths) WorkspaceDir() string { return filepath.Join(p.Root, "workspace") }
func (p Paths) SpoolDir() string     { return filepath.Join(p.Root, "spool") }
func (p Paths) CostDB() string       { return filepath.Join(p.Root, "cost.db") }
func (p Paths) MemoryDB() string     { return filepath.Join(p.Root, "memory.db") }

// EnsureDirs creates the directory skeleton.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.StateDir(), p.SessionsDir(), p.WorkspaceDir(), p.SpoolDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// WriteFileAtomic writes data to path via a temp file and rename, so readers
// never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
