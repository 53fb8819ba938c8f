// Package pipe reads control commands from a named FIFO: one JSON object
// per line, either an inbound message or a session reset.
package pipe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/lucyd-ai/lucyd/internal/dispatch"
	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// Reader tails the control FIFO and feeds parsed items into the dispatcher.
type Reader struct {
	path       string
	dispatcher *dispatch.Dispatcher
}

// NewReader creates the FIFO when missing and returns a reader over it.
func NewReader(path string, dispatcher *dispatch.Dispatcher) (*Reader, error) {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if err := syscall.Mkfifo(path, 0o600); err != nil {
			return nil, fmt.Errorf("create fifo %s: %w", path, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat fifo %s: %w", path, err)
	case info.Mode()&os.ModeNamedPipe == 0:
		return nil, fmt.Errorf("%s exists and is not a fifo", path)
	}
	return &Reader{path: path, dispatcher: dispatcher}, nil
}

// Run reads lines until the context is cancelled. The FIFO is opened
// read-write so the descriptor survives writers coming and going without
// spinning on EOF.
func (r *Reader) Run(ctx context.Context) {
	f, err := os.OpenFile(r.path, os.O_RDWR, 0)
	if err != nil {
		L_error("pipe: open failed", "path", r.path, "error", err)
		return
	}
	go func() {
		<-ctx.Done()
		f.Close()
	}()

	L_info("pipe: listening", "path", r.path)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		r.handleLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		L_error("pipe: read failed", "error", err)
	}
}

func (r *Reader) handleLine(line string) {
	item, err := dispatch.ParseControlLine(line)
	if err != nil {
		L_warn("pipe: rejected control line", "error", err)
		return
	}
	switch {
	case item.Reset != nil:
		if err := r.dispatcher.EnqueueReset(*item.Reset); err != nil {
			L_warn("pipe: reset enqueue failed", "error", err)
		}
	case item.Message != nil:
		if err := r.dispatcher.Enqueue(*item.Message, nil); err != nil {
			L_warn("pipe: enqueue failed", "error", err)
		}
	}
}

// Send writes one JSON line to a FIFO from the CLI side. It fails fast when
// no daemon holds the read end open.
func Send(path, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open fifo %s (is the daemon running?): %w", path, err)
	}
	defer f.Close()
	f.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write fifo: %w", err)
	}
	return nil
}
