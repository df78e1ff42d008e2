package audit

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/datatypes"
)

type contextKey string

const (
	syncIDKey  contextKey = "syncID"
	jobKindKey contextKey = "jobKind"
)

// ErrSyncIDNotFound is returned when no sync ID is found in context
var ErrSyncIDNotFound = errors.New("sync ID not found in context")

// WithSyncID adds the correlation id of the current sync run to the context
func WithSyncID(ctx context.Context, syncID string) context.Context {
	return context.WithValue(ctx, syncIDKey, syncID)
}

// SyncIDFromContext extracts the sync ID from the context
func SyncIDFromContext(ctx context.Context) (string, error) {
	syncID, ok := ctx.Value(syncIDKey).(string)
	if !ok || syncID == "" {
		return "", ErrSyncIDNotFound
	}
	return syncID, nil
}

// WithJobKind tags the context with the pull job kind being executed
func WithJobKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, jobKindKey, kind)
}

// JobKindFromContext returns the job kind tag, or "" when absent
func JobKindFromContext(ctx context.Context) string {
	kind, _ := ctx.Value(jobKindKey).(string)
	return kind
}

// Data is the audit payload stamped on every canonical row written by a sync.
type Data struct {
	SyncID     string `json:"sync_id"`
	EntryPoint string `json:"entry_point,omitempty"`
}

// JSON renders the audit payload for a jsonb column.
func (d Data) JSON() datatypes.JSON {
	data, err := json.Marshal(d)
	if err != nil {
		panic("failed to marshal audit data: " + err.Error())
	}
	return datatypes.JSON(data)
}

// FromContext builds audit data from the sync ID in ctx and the given entry point.
func FromContext(ctx context.Context, entryPoint string) Data {
	syncID, _ := SyncIDFromContext(ctx)
	return Data{SyncID: syncID, EntryPoint: entryPoint}
}
