package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	. "github.com/lucyd-ai/lucyd/internal/logging"
	"github.com/lucyd-ai/lucyd/internal/types"
)

// maxTimerAhead caps one-shot reminders; anything further out belongs in
// an external calendar, not a process-lifetime timer.
const maxTimerAhead = 31 * 24 * time.Hour

// defaultMaxSchedules bounds the combined reminder and cron table.
const defaultMaxSchedules = 64

// EnqueueFunc feeds a scheduled message back into the dispatcher.
type EnqueueFunc func(msg types.InboundMessage) error

// Scheduler drives recurring cron jobs and one-shot reminders that arrive
// as cron-sourced inbound messages.
type Scheduler struct {
	cron    *cron.Cron
	enqueue EnqueueFunc
	max     int

	mu        sync.Mutex
	timers    map[int]*time.Timer
	cronCount int
	nextID    int
}

// NewScheduler creates a stopped scheduler; call Start. maxEntries caps the
// combined number of armed reminders and cron jobs, 0 means the default.
func NewScheduler(enqueue EnqueueFunc, maxEntries int) *Scheduler {
	if maxEntries <= 0 {
		maxEntries = defaultMaxSchedules
	}
	return &Scheduler{
		cron:    cron.New(),
		enqueue: enqueue,
		max:     maxEntries,
		timers:  make(map[int]*time.Timer),
	}
}

// Start begins running cron entries.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts cron and cancels pending one-shot timers.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) fire(sender, text string) {
	msg := types.InboundMessage{
		Text:      text,
		Sender:    sender,
		Source:    types.SourceCron,
		Timestamp: time.Now().Unix(),
	}
	if err := s.enqueue(msg); err != nil {
		L_error("scheduler: enqueue failed", "error", err)
	}
}

// ScheduleAt arms a one-shot reminder.
func (s *Scheduler) ScheduleAt(at time.Time, sender, text string) (int, error) {
	delay := time.Until(at)
	if delay <= 0 {
		return 0, fmt.Errorf("time %s is in the past", at.Format(time.RFC3339))
	}
	if delay > maxTimerAhead {
		return 0, fmt.Errorf("time %s is more than %d days away", at.Format(time.RFC3339), int(maxTimerAhead.Hours()/24))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers)+s.cronCount >= s.max {
		return 0, fmt.Errorf("schedule table full (%d entries), cancel something first", s.max)
	}
	s.nextID++
	id := s.nextID
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		s.fire(sender, text)
	})
	L_info("scheduler: reminder armed", "id", id, "at", at.Format(time.RFC3339))
	return id, nil
}

// ScheduleCron registers a recurring job.
func (s *Scheduler) ScheduleCron(spec, sender, text string) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers)+s.cronCount >= s.max {
		return 0, fmt.Errorf("schedule table full (%d entries), cancel something first", s.max)
	}
	id, err := s.cron.AddFunc(spec, func() { s.fire(sender, text) })
	if err != nil {
		return 0, fmt.Errorf("bad cron expression %q: %w", spec, err)
	}
	s.cronCount++
	L_info("scheduler: cron job added", "id", id, "spec", spec)
	return id, nil
}

// ScheduleTool lets the agent arm reminders and recurring jobs.
type ScheduleTool struct {
	scheduler *Scheduler
	sender    string // the contact reminders are attributed to
}

// NewScheduleTool creates the schedule tool bound to one contact.
func NewScheduleTool(scheduler *Scheduler, sender string) *ScheduleTool {
	return &ScheduleTool{scheduler: scheduler, sender: sender}
}

func (t *ScheduleTool) Name() string { return "schedule" }

func (t *ScheduleTool) Description() string {
	return "Schedule a reminder for a specific time or a recurring cron job. The text arrives back as a system message when due."
}

func (t *ScheduleTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "What to be reminded about",
			},
			"at": map[string]any{
				"type":        "string",
				"description": "RFC3339 time for a one-shot reminder, e.g. 2026-09-01T09:00:00+02:00",
			},
			"cron": map[string]any{
				"type":        "string",
				"description": "Cron expression for a recurring job, e.g. '0 9 * * MON'",
			},
		},
		"required": []string{"text"},
	}
}

func (t *ScheduleTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Text string `json:"text"`
		At   string `json:"at"`
		Cron string `json:"cron"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if params.Text == "" {
		return "", fmt.Errorf("text is required")
	}

	switch {
	case params.At != "":
		at, err := time.Parse(time.RFC3339, params.At)
		if err != nil {
			return "", fmt.Errorf("bad time %q, use RFC3339: %w", params.At, err)
		}
		id, err := t.scheduler.ScheduleAt(at, t.sender, params.Text)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Reminder #%d set for %s.", id, at.Format(time.RFC3339)), nil

	case params.Cron != "":
		id, err := t.scheduler.ScheduleCron(params.Cron, t.sender, params.Text)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Recurring job #%d added (%s).", id, params.Cron), nil

	default:
		return "", fmt.Errorf("either at or cron is required")
	}
}
