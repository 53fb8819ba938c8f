package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// InsertEpisode stores an episode and returns its id.
func (o ops) InsertEpisode(ep *Episode) (int64, error) {
	if ep.Date == "" {
		ep.Date = time.Now().Format("2006-01-02")
	}
	if ep.EmotionalTone == "" {
		ep.EmotionalTone = "neutral"
	}
	topics, _ := json.Marshal(ep.Topics)
	decisions, _ := json.Marshal(ep.Decisions)

	result, err := o.q.Exec(`
		INSERT INTO episodes (session_id, date, topics, decisions, summary, emotional_tone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ep.SessionID, ep.Date, string(topics), string(decisions),
		ep.Summary, ep.EmotionalTone, time.Now().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert episode: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("episode id: %w", err)
	}
	ep.ID = id
	L_debug("memory: episode inserted", "id", id, "session", ep.SessionID, "topics", len(ep.Topics))
	return id, nil
}

// SearchEpisodes matches keywords against topics OR summary with OR-ed LIKE
// filters, newest first. daysBack limits recency when > 0.
func (o ops) SearchEpisodes(keywords []string, daysBack, max int) ([]Episode, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if max <= 0 {
		max = 10
	}

	var conds []string
	var args []any
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		conds = append(conds, "(topics LIKE ? OR summary LIKE ?)")
		pattern := "%" + kw + "%"
		args = append(args, pattern, pattern)
	}
	if len(conds) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, session_id, date, topics, decisions, summary, emotional_tone, created_at
		FROM episodes
		WHERE (` + strings.Join(conds, " OR ") + `)`
	if daysBack > 0 {
		query += " AND date >= ?"
		args = append(args, time.Now().AddDate(0, 0, -daysBack).Format("2006-01-02"))
	}
	query += " ORDER BY date DESC LIMIT ?"
	args = append(args, max)

	rows, err := o.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// RecentEpisodes returns the newest episodes for the session-start recall.
func (o ops) RecentEpisodes(max int) ([]Episode, error) {
	if max <= 0 {
		max = 5
	}
	rows, err := o.q.Query(`
		SELECT id, session_id, date, topics, decisions, summary, emotional_tone, created_at
		FROM episodes ORDER BY date DESC, id DESC LIMIT ?
	`, max)
	if err != nil {
		return nil, fmt.Errorf("recent episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

func scanEpisodes(rows *sql.Rows) ([]Episode, error) {
	var episodes []Episode
	for rows.Next() {
		var ep Episode
		var topics, decisions, created string
		if err := rows.Scan(&ep.ID, &ep.SessionID, &ep.Date, &topics, &decisions,
			&ep.Summary, &ep.EmotionalTone, &created); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		json.Unmarshal([]byte(topics), &ep.Topics)
		json.Unmarshal([]byte(decisions), &ep.Decisions)
		ep.CreatedAt, _ = time.Parse(time.RFC3339, created)
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}
