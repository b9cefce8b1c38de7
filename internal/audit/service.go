package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm"
)

// sensitiveKeys never reach the audit table, whatever their nesting depth.
var sensitiveKeys = map[string]struct{}{
	"passwordhash":     {},
	"secret":           {},
	"token":            {},
	"refreshtokenhash": {},
	"securitystamp":    {},
}

// Entry describes a state change to record.
type Entry struct {
	ActorUserID   int64
	Action        string
	EntityTable   string
	EntityID      string
	CorrelationID string
	Before        map[string]any
	After         map[string]any
}

// Service writes audit rows inside the caller's transaction so the row commits or rolls back
// together with the change it describes.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// LogChange stores the sanitized field diff of entry: only keys whose value differs between Before
// and After. An entry without Before records a creation and keeps every After key.
func (s *Service) LogChange(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if tx == nil {
		return fmt.Errorf("audit entry %s requires a transaction", entry.Action)
	}

	before, after := Diff(Sanitize(entry.Before), Sanitize(entry.After))
	changes, err := json.Marshal(map[string]any{
		"before": before,
		"after":  after,
	})
	if err != nil {
		return fmt.Errorf("failed to encode audit changes: %w", err)
	}

	row := &Log{
		ActorUserID:   entry.ActorUserID,
		Action:        entry.Action,
		EntityTable:   entry.EntityTable,
		EntityID:      entry.EntityID,
		CorrelationID: entry.CorrelationID,
		Changes:       changes,
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Diff drops the keys that hold equal values on both sides. A nil side is returned as is.
func Diff(before, after map[string]any) (map[string]any, map[string]any) {
	if before == nil || after == nil {
		return before, after
	}
	changedBefore := make(map[string]any)
	for k, v := range before {
		if other, ok := after[k]; !ok || !reflect.DeepEqual(v, other) {
			changedBefore[k] = v
		}
	}
	changedAfter := make(map[string]any)
	for k, v := range after {
		if other, ok := before[k]; !ok || !reflect.DeepEqual(v, other) {
			changedAfter[k] = v
		}
	}
	return changedBefore, changedAfter
}

// Sanitize returns a copy of values without sensitive keys. Key matching ignores case.
func Sanitize(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if _, drop := sensitiveKeys[strings.ToLower(k)]; drop {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Sanitize(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}
