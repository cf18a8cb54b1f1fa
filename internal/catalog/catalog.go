// Package catalog exposes the item master data warehouse flows depend on.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/abdialidrus/scm-mining/internal/platform/db"
)

// ErrItemNotFound indicates an unknown item id.
var ErrItemNotFound = errors.New("catalog: item not found")

// Item is the subset of item master data warehouse flows need.
type Item struct {
	ID           int64  `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	BaseUOMID    int64  `json:"base_uom_id"`
	IsSerialized bool   `json:"is_serialized"`
}

// Reader resolves items by id.
type Reader interface {
	ItemsByID(ctx context.Context, ids []int64) (map[int64]Item, error)
}

// Store reads items from PostgreSQL.
type Store struct {
	q db.Querier
}

// NewStore binds a Store to q.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

// ItemsByID implements Reader. Unknown ids are absent from the result.
func (s *Store) ItemsByID(ctx context.Context, ids []int64) (map[int64]Item, error) {
	out := make(map[int64]Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.q.Query(ctx, `
		SELECT id, code, name, COALESCE(base_uom_id, 0), is_serialized
		FROM items
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Code, &it.Name, &it.BaseUOMID, &it.IsSerialized); err != nil {
			return nil, err
		}
		out[it.ID] = it
	}
	return out, rows.Err()
}

// Require returns the items for ids or an error naming the first unknown one.
func Require(ctx context.Context, r Reader, ids []int64) (map[int64]Item, error) {
	items, err := r.ItemsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := items[id]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
		}
	}
	return items, nil
}
