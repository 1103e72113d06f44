package models

import "time"

// Reconciliation statuses reported per record.
const (
	StatusInserted  = "inserted"
	StatusUpdated   = "updated"
	StatusUnchanged = "unchanged"
	StatusError     = "error"
)

// Audit fields written by the reconciliation engine, never by translators.
const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Record is the canonical, wire-format independent form of one entity instance.
type Record struct {
	Type   string         `json:"type"`
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

// Result is the outcome of reconciling a single record.
type Result struct {
	Type    string   `json:"type"`
	Key     string   `json:"key"`
	Status  string   `json:"status"`
	Changed []string `json:"changed,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Timestamp formats an audit timestamp.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Tally counts results by status.
func Tally(results []Result) map[string]int {
	out := make(map[string]int, 4)
	for _, r := range results {
		out[r.Status]++
	}
	return out
}
