package models

// Settings is the one-row-per-user preference document. Created lazily
// on first read with an empty Instruction (spec.md §3).
type Settings struct {
	UserID      string `json:"user_id"`
	Instruction string `json:"instruction"`
}
