package sectors

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/database"
	"github.com/aristath/marketpulse/internal/domain"
)

// ConceptRepository handles concept labels and their memberships.
type ConceptRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewConceptRepository creates a new concept repository.
func NewConceptRepository(db *sql.DB, log zerolog.Logger) *ConceptRepository {
	return &ConceptRepository{
		db:  db,
		log: log.With().Str("repo", "concepts").Logger(),
	}
}

// ListActive returns all active concepts.
func (r *ConceptRepository) ListActive() ([]domain.Concept, error) {
	rows, err := r.db.Query(`
		SELECT id, name, code, source, active FROM concepts WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query active concepts: %w", err)
	}
	defer rows.Close()

	var out []domain.Concept
	for rows.Next() {
		var c domain.Concept
		var active int
		if err := rows.Scan(&c.ID, &c.Name, &c.Code, &c.Source, &active); err != nil {
			return nil, fmt.Errorf("scan concept: %w", err)
		}
		c.Active = active == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetByName returns the active concept with this name, or nil.
func (r *ConceptRepository) GetByName(name string) (*domain.Concept, error) {
	var c domain.Concept
	var active int
	err := r.db.QueryRow(`
		SELECT id, name, code, source, active FROM concepts
		WHERE name = ? AND active = 1`, name).
		Scan(&c.ID, &c.Name, &c.Code, &c.Source, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query concept %s: %w", name, err)
	}
	c.Active = active == 1
	return &c, nil
}

// Create inserts a new active concept and returns its id.
func (r *ConceptRepository) Create(name, code, source string) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO concepts (name, code, source, active) VALUES (?, ?, ?, 1)`,
		name, code, source)
	if err != nil {
		return 0, fmt.Errorf("create concept %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("concept insert id: %w", err)
	}
	return id, nil
}

// Deactivate retires a concept label. Memberships stay in place so past
// snapshots keep resolving; readers filter on active.
func (r *ConceptRepository) Deactivate(id int64) error {
	_, err := r.db.Exec(`UPDATE concepts SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate concept %d: %w", id, err)
	}
	return nil
}

// ReplaceMembers atomically swaps the membership set of one concept.
func (r *ConceptRepository) ReplaceMembers(conceptID int64, members []domain.ConceptMember) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM concept_members WHERE concept_id = ?`, conceptID); err != nil {
			return fmt.Errorf("clear members of concept %d: %w", conceptID, err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO concept_members (code, concept_id, weight) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range members {
			weight := m.Weight
			if weight <= 0 || weight > 1 {
				weight = 1.0
			}
			if _, err := stmt.Exec(m.Code, conceptID, weight); err != nil {
				return fmt.Errorf("insert member %s of concept %d: %w", m.Code, conceptID, err)
			}
		}
		return nil
	})
}

// MemberCodesByName returns the member codes of an active concept,
// heaviest first. Empty when the concept is unknown.
func (r *ConceptRepository) MemberCodesByName(name string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT cm.code
		FROM concept_members cm
		JOIN concepts c ON c.id = cm.concept_id
		WHERE c.name = ? AND c.active = 1
		ORDER BY cm.weight DESC, cm.code`, name)
	if err != nil {
		return nil, fmt.Errorf("query members of %s: %w", name, err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan member code: %w", err)
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// ConceptNamesOfCode returns the active concept labels a ticker belongs to.
func (r *ConceptRepository) ConceptNamesOfCode(code string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT c.name
		FROM concepts c
		JOIN concept_members cm ON cm.concept_id = c.id
		WHERE cm.code = ? AND c.active = 1
		ORDER BY cm.weight DESC, c.name`, code)
	if err != nil {
		return nil, fmt.Errorf("query concepts of %s: %w", code, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan concept name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// MembershipsByCodes bulk-resolves concept labels for a set of tickers.
// One query instead of a per-code loop; the hot-rank enricher runs this on
// every list refresh.
func (r *ConceptRepository) MembershipsByCodes(codes []string) (map[string][]string, error) {
	if len(codes) == 0 {
		return map[string][]string{}, nil
	}

	placeholders := ""
	args := make([]interface{}, 0, len(codes))
	for i, c := range codes {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, c)
	}

	rows, err := r.db.Query(`
		SELECT cm.code, c.name
		FROM concept_members cm
		JOIN concepts c ON c.id = cm.concept_id
		WHERE cm.code IN (`+placeholders+`) AND c.active = 1
		ORDER BY cm.code, cm.weight DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string, len(codes))
	for rows.Next() {
		var code, name string
		if err := rows.Scan(&code, &name); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out[code] = append(out[code], name)
	}
	return out, rows.Err()
}
