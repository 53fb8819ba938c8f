// Package status writes the daemon's state-dir views: status.json (process
// overview) and monitor.json (last processed turn). Both are written
// atomically so external readers never see a torn file.
package status

import (
	"encoding/json"
	"os"
	"time"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/paths"
	"github.com/lucyd-ai/lucyd/internal/session"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// Turn is the monitor.json payload, one record per processed message.
type Turn struct {
	ID        string      `json:"id"` // ULID, sortable by processing time
	Sender    string      `json:"sender"`
	Source    string      `json:"source"`
	SessionID string      `json:"sessionId"`
	Silent    bool        `json:"silent,omitempty"`
	Reply     string      `json:"reply"`
	Tokens    types.Usage `json:"tokens"`
	Error     string      `json:"error,omitempty"`
	At        time.Time   `json:"at"`
}

// Overview is the status.json payload.
type Overview struct {
	PID       int            `json:"pid"`
	Version   string         `json:"version"`
	StartedAt time.Time      `json:"startedAt"`
	Uptime    string         `json:"uptime"`
	Sessions  []session.Info `json:"sessions"`
}

// Writer maintains the state-dir view files.
type Writer struct {
	paths     paths.Paths
	version   string
	startedAt time.Time
}

// NewWriter creates a writer rooted at the agent directory.
func NewWriter(p paths.Paths, version string) *Writer {
	return &Writer{paths: p, version: version, startedAt: time.Now()}
}

// WriteOverview rewrites status.json.
func (w *Writer) WriteOverview(sessions []session.Info) {
	data, err := json.MarshalIndent(Overview{
		PID:       os.Getpid(),
		Version:   w.version,
		StartedAt: w.startedAt,
		Uptime:    time.Since(w.startedAt).Round(time.Second).String(),
		Sessions:  sessions,
	}, "", "  ")
	if err != nil {
		L_warn("status: marshal overview failed", "error", err)
		return
	}
	if err := paths.WriteFileAtomic(w.paths.StatusFile(), data); err != nil {
		L_warn("status: write failed", "error", err)
	}
}

// WriteTurn rewrites monitor.json with the latest turn.
func (w *Writer) WriteTurn(turn Turn) {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	data, err := json.MarshalIndent(turn, "", "  ")
	if err != nil {
		L_warn("status: marshal turn failed", "error", err)
		return
	}
	if err := paths.WriteFileAtomic(w.paths.MonitorFile(), data); err != nil {
		L_warn("status: write failed", "error", err)
	}
}
