package sectors

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/marketpulse/internal/domain"
)

// VirtualBoardRepository stores the concept-to-presentation-board mapping.
// A single source concept can project into several boards, each with its
// own weight.
type VirtualBoardRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewVirtualBoardRepository creates a new virtual board repository.
func NewVirtualBoardRepository(db *sql.DB, log zerolog.Logger) *VirtualBoardRepository {
	return &VirtualBoardRepository{
		db:  db,
		log: log.With().Str("repo", "virtual_boards").Logger(),
	}
}

// ListActive returns all active board mappings.
func (r *VirtualBoardRepository) ListActive() ([]domain.VirtualBoard, error) {
	rows, err := r.db.Query(`
		SELECT id, board_name, source_name, weight, active
		FROM virtual_boards WHERE active = 1
		ORDER BY board_name, weight DESC`)
	if err != nil {
		return nil, fmt.Errorf("query virtual boards: %w", err)
	}
	defer rows.Close()

	var out []domain.VirtualBoard
	for rows.Next() {
		var b domain.VirtualBoard
		var active int
		if err := rows.Scan(&b.ID, &b.BoardName, &b.SourceName, &b.Weight, &active); err != nil {
			return nil, fmt.Errorf("scan virtual board: %w", err)
		}
		b.Active = active == 1
		out = append(out, b)
	}
	return out, rows.Err()
}

// ProjectionMap returns source concept name -> active board mappings.
// The predictor caches this map and refreshes it explicitly.
func (r *VirtualBoardRepository) ProjectionMap() (map[string][]domain.VirtualBoard, error) {
	boards, err := r.ListActive()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]domain.VirtualBoard)
	for _, b := range boards {
		out[b.SourceName] = append(out[b.SourceName], b)
	}
	return out, nil
}

// Upsert inserts or refreshes one mapping, matching on (board, source).
func (r *VirtualBoardRepository) Upsert(boardName, sourceName string, weight float64) error {
	var id int64
	err := r.db.QueryRow(`
		SELECT id FROM virtual_boards WHERE board_name = ? AND source_name = ?`,
		boardName, sourceName).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		_, err = r.db.Exec(`
			INSERT INTO virtual_boards (board_name, source_name, weight, active)
			VALUES (?, ?, ?, 1)`, boardName, sourceName, weight)
	case err == nil:
		_, err = r.db.Exec(`
			UPDATE virtual_boards SET weight = ?, active = 1 WHERE id = ?`, weight, id)
	}
	if err != nil {
		return fmt.Errorf("upsert virtual board %s<-%s: %w", boardName, sourceName, err)
	}
	return nil
}

// Deactivate retires one mapping.
func (r *VirtualBoardRepository) Deactivate(id int64) error {
	_, err := r.db.Exec(`UPDATE virtual_boards SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate virtual board %d: %w", id, err)
	}
	return nil
}
