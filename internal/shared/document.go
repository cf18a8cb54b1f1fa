package shared

import (
	"fmt"
	"time"
)

// DocStatus is the lifecycle state shared by warehouse documents.
type DocStatus string

const (
	DocStatusDraft     DocStatus = "DRAFT"
	DocStatusPosted    DocStatus = "POSTED"
	DocStatusCancelled DocStatus = "CANCELLED"
)

// Document actions recorded in status history.
const (
	ActionCreate = "CREATE"
	ActionPost   = "POST"
	ActionCancel = "CANCEL"
)

// EnsureDraft rejects mutation of documents that left DRAFT.
func EnsureDraft(kind RefKind, status DocStatus) error {
	if status != DocStatusDraft {
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, kind, status)
	}
	return nil
}

// StatusHistory is one append-only row per document transition.
type StatusHistory struct {
	ID         int64
	DocType    RefKind
	DocID      int64
	FromStatus *DocStatus
	ToStatus   DocStatus
	Action     string
	ActorID    int64
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Transition builds a history row moving a document from one status to another.
func Transition(kind RefKind, docID int64, from *DocStatus, to DocStatus, action string, actorID int64, meta map[string]any) StatusHistory {
	return StatusHistory{
		DocType:    kind,
		DocID:      docID,
		FromStatus: from,
		ToStatus:   to,
		Action:     action,
		ActorID:    actorID,
		Metadata:   meta,
	}
}

// StatusPtr returns a pointer to s for optional history fields.
func StatusPtr(s DocStatus) *DocStatus {
	return &s
}
