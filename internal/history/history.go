// Package history persists document status transitions.
package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abdialidrus/scm-mining/internal/platform/db"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// Insert appends a transition row using q, normally the posting transaction.
func Insert(ctx context.Context, q db.Querier, h shared.StatusHistory) error {
	meta := h.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("history: encode metadata: %w", err)
	}
	var from *string
	if h.FromStatus != nil {
		s := string(*h.FromStatus)
		from = &s
	}
	_, err = q.Exec(ctx, `
		INSERT INTO document_status_histories (doc_type, doc_id, from_status, to_status, action, actor_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, string(h.DocType), h.DocID, from, string(h.ToStatus), h.Action, h.ActorID, payload)
	return err
}

// List returns the transitions of one document, oldest first.
func List(ctx context.Context, q db.Querier, kind shared.RefKind, docID int64) ([]shared.StatusHistory, error) {
	rows, err := q.Query(ctx, `
		SELECT id, doc_type, doc_id, from_status, to_status, action, actor_id, metadata, created_at
		FROM document_status_histories
		WHERE doc_type = $1 AND doc_id = $2
		ORDER BY id
	`, string(kind), docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []shared.StatusHistory
	for rows.Next() {
		var (
			h        shared.StatusHistory
			docType  string
			from     *string
			to       string
			metaJSON []byte
		)
		if err := rows.Scan(&h.ID, &docType, &h.DocID, &from, &to, &h.Action, &h.ActorID, &metaJSON, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.DocType = shared.RefKind(docType)
		h.ToStatus = shared.DocStatus(to)
		if from != nil {
			h.FromStatus = shared.StatusPtr(shared.DocStatus(*from))
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &h.Metadata); err != nil {
				return nil, fmt.Errorf("history: decode metadata: %w", err)
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
