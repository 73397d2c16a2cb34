// Package audit records append-only before/after snapshots of mutations.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreate       = "CREATE"
	ActionReschedule   = "RESCHEDULE"
	ActionStatusChange = "STATUS_CHANGE"
)

var ErrAuditWriteFailed = errors.New("audit write failed")

// Entry is one audit record. It is never mutated after it is written.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	EntityType string         `json:"entityType"`
	EntityID   uuid.UUID      `json:"entityId"`
	Action     string         `json:"action"`
	OldValues  map[string]any `json:"oldValues,omitempty"`
	NewValues  map[string]any `json:"newValues,omitempty"`
	ActorID    *uuid.UUID     `json:"actorId,omitempty"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Writer persists entries, normally inside the caller's transaction.
type Writer interface {
	InsertAuditEntry(ctx context.Context, e Entry) error
}

// Recorder stamps entries with an id, time and the request actor.
type Recorder struct {
	now func() time.Time
}

func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// Record writes one entry through w. Any failure is returned wrapped in
// ErrAuditWriteFailed so the enclosing transaction rolls back.
func (r *Recorder) Record(
	ctx context.Context,
	w Writer,
	entityType string,
	entityID uuid.UUID,
	action string,
	oldValues, newValues map[string]any,
) (Entry, error) {
	actor := ActorFrom(ctx)
	e := Entry{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		OldValues:  oldValues,
		NewValues:  newValues,
		ActorID:    actor.ID,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
		CreatedAt:  r.now().UTC(),
	}

	if err := w.InsertAuditEntry(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("%w: %s %s %s: %v", ErrAuditWriteFailed, action, entityType, entityID, err)
	}
	return e, nil
}

// Actor describes who triggered a mutation.
type Actor struct {
	ID        *uuid.UUID
	IPAddress string
	UserAgent string
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the zero Actor when none is attached.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}
