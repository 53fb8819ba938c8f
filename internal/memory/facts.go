package memory

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	. "github.com/lucyd-ai/lucyd/internal/logging"
)

// UpsertFact applies the invalidation invariant for (entity, attribute):
// an identical current value is left alone, a changed value invalidates the
// current row and inserts a new one, an absent pair inserts fresh.
func (o ops) UpsertFact(entity, attribute, value string, confidence float64, sourceSession string) error {
	entity = NormalizeKey(entity)
	attribute = NormalizeKey(attribute)
	if entity == "" || attribute == "" || strings.TrimSpace(value) == "" {
		return fmt.Errorf("fact requires entity, attribute and value")
	}

	now := time.Now().Format(time.RFC3339)

	var id int64
	var current string
	err := o.q.QueryRow(`
		SELECT id, value FROM facts
		WHERE entity = ? AND attribute = ? AND invalidated_at IS NULL
	`, entity, attribute).Scan(&id, &current)

	switch {
	case err == sql.ErrNoRows:
		// fresh insert below
	case err != nil:
		return fmt.Errorf("lookup current fact: %w", err)
	case current == value:
		L_trace("memory: fact unchanged", "entity", entity, "attribute", attribute)
		return nil
	default:
		if _, err := o.q.Exec(
			`UPDATE facts SET invalidated_at = ? WHERE id = ?`, now, id,
		); err != nil {
			return fmt.Errorf("invalidate fact: %w", err)
		}
		L_debug("memory: fact superseded", "entity", entity, "attribute", attribute)
	}

	if _, err := o.q.Exec(`
		INSERT INTO facts (entity, attribute, value, confidence, source_session,
			created_at, updated_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entity, attribute, value, confidence, sourceSession, now, now, now); err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

// InvalidateFact soft-deletes the current row for (entity, attribute).
func (o ops) InvalidateFact(entity, attribute string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := o.q.Exec(`
		UPDATE facts SET invalidated_at = ?
		WHERE entity = ? AND attribute = ? AND invalidated_at IS NULL
	`, now, NormalizeKey(entity), NormalizeKey(attribute))
	if err != nil {
		return fmt.Errorf("invalidate fact: %w", err)
	}
	return nil
}

// LookupFacts returns current facts for any of the given entities, most
// recently updated first, touching accessed_at on every returned row.
func (o ops) LookupFacts(entities []string, max int) ([]Fact, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	if max <= 0 {
		max = 50
	}

	placeholders := make([]string, len(entities))
	args := make([]any, 0, len(entities)+1)
	for i, e := range entities {
		placeholders[i] = "?"
		args = append(args, NormalizeKey(e))
	}
	args = append(args, max)

	rows, err := o.q.Query(fmt.Sprintf(`
		SELECT id, entity, attribute, value, confidence,
			COALESCE(source_session, ''), created_at, updated_at, accessed_at
		FROM facts
		WHERE entity IN (%s) AND invalidated_at IS NULL
		ORDER BY updated_at DESC
		LIMIT ?
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("lookup facts: %w", err)
	}
	defer rows.Close()

	facts, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}
	o.touchFacts(facts)
	return facts, nil
}

// RecentFacts returns the most recently accessed current facts, used by the
// session-start warm-up recall.
func (o ops) RecentFacts(max int) ([]Fact, error) {
	if max <= 0 {
		max = 20
	}
	rows, err := o.q.Query(`
		SELECT id, entity, attribute, value, confidence,
			COALESCE(source_session, ''), created_at, updated_at, accessed_at
		FROM facts
		WHERE invalidated_at IS NULL
		ORDER BY accessed_at DESC
		LIMIT ?
	`, max)
	if err != nil {
		return nil, fmt.Errorf("recent facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

func (o ops) touchFacts(facts []Fact) {
	if len(facts) == 0 {
		return
	}
	now := time.Now().Format(time.RFC3339)
	for _, f := range facts {
		if _, err := o.q.Exec(`UPDATE facts SET accessed_at = ? WHERE id = ?`, now, f.ID); err != nil {
			L_warn("memory: touch fact failed", "id", f.ID, "error", err)
			return
		}
	}
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var facts []Fact
	for rows.Next() {
		var f Fact
		var created, updated, accessed string
		if err := rows.Scan(&f.ID, &f.Entity, &f.Attribute, &f.Value, &f.Confidence,
			&f.SourceSession, &created, &updated, &accessed); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339, created)
		f.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		f.AccessedAt, _ = time.Parse(time.RFC3339, accessed)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// AddAlias stores alias -> canonical, both normalized. The canonical side is
// itself resolved first so resolution stays idempotent; a self-alias is a
// no-op.
func (o ops) AddAlias(alias, canonical string) error {
	alias = NormalizeKey(alias)
	canonical = o.ResolveAlias(canonical)
	if alias == "" || canonical == "" || alias == canonical {
		return nil
	}
	_, err := o.q.Exec(`
		INSERT INTO aliases (alias, canonical, created_at) VALUES (?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET canonical = excluded.canonical
	`, alias, canonical, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("add alias: %w", err)
	}
	L_trace("memory: alias added", "alias", alias, "canonical", canonical)
	return nil
}

// ResolveAlias maps an alias to its canonical entity, or returns the
// normalized input unchanged when no alias row exists.
func (o ops) ResolveAlias(name string) string {
	name = NormalizeKey(name)
	if name == "" {
		return ""
	}
	var canonical string
	err := o.q.QueryRow(`SELECT canonical FROM aliases WHERE alias = ?`, name).Scan(&canonical)
	if err != nil {
		return name
	}
	return canonical
}

// HasEntity reports whether an entity has any current facts or is a known
// alias, used by recall entity extraction to filter candidates.
func (o ops) HasEntity(name string) bool {
	name = NormalizeKey(name)
	if name == "" {
		return false
	}
	var n int
	if err := o.q.QueryRow(`
		SELECT COUNT(*) FROM facts WHERE entity = ? AND invalidated_at IS NULL
	`, name).Scan(&n); err == nil && n > 0 {
		return true
	}
	if err := o.q.QueryRow(`SELECT COUNT(*) FROM aliases WHERE alias = ?`, name).Scan(&n); err == nil && n > 0 {
		return true
	}
	return false
}
