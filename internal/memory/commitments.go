package memory

import (
	"fmt"
	"time"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// InsertCommitment stores an open commitment tied to an episode.
func (o ops) InsertCommitment(episodeID int64, subject, obligation, deadline string) (int64, error) {
	var dl any
	if deadline != "" {
		dl = deadline
	}
	result, err := o.q.Exec(`
		INSERT INTO commitments (episode_id, subject, obligation, deadline, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, episodeID, subject, obligation, dl, StatusOpen, time.Now().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert commitment: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("commitment id: %w", err)
	}
	return id, nil
}

// ListOpenCommitments returns open commitments, dated ones first by nearest
// deadline, then undated newest-first.
func (o ops) ListOpenCommitments() ([]Commitment, error) {
	rows, err := o.q.Query(`
		SELECT id, COALESCE(episode_id, 0), subject, obligation,
			COALESCE(deadline, ''), status, created_at
		FROM commitments
		WHERE status = ?
		ORDER BY deadline IS NULL, deadline ASC, created_at DESC
	`, StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list open commitments: %w", err)
	}
	defer rows.Close()

	var commitments []Commitment
	for rows.Next() {
		var c Commitment
		var created string
		if err := rows.Scan(&c.ID, &c.EpisodeID, &c.Subject, &c.Obligation,
			&c.Deadline, &c.Status, &created); err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, created)
		commitments = append(commitments, c)
	}
	return commitments, rows.Err()
}

// UpdateCommitmentStatus transitions an open commitment to done, expired or
// cancelled. Rows already out of open are never touched.
func (o ops) UpdateCommitmentStatus(id int64, status string) error {
	switch status {
	case StatusDone, StatusExpired, StatusCancelled:
	default:
		return fmt.Errorf("invalid commitment status %q", status)
	}
	result, err := o.q.Exec(`
		UPDATE commitments SET status = ? WHERE id = ? AND status = ?
	`, status, id, StatusOpen)
	if err != nil {
		return fmt.Errorf("update commitment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("commitment %d not open", id)
	}
	L_debug("memory: commitment updated", "id", id, "status", status)
	return nil
}
