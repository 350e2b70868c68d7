package models

import "time"

// Processed is one delivered-or-baselined message for an account. The
// set of Processed rows for an account is the exactly-once guard
// (spec.md §3): a message is "already delivered" iff a row exists for
// its (AccountID, MessageID).
type Processed struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	MessageID   string    `json:"message_id"`
	UID         uint32    `json:"uid"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ProcessedDocID derives the deterministic id spec.md §6 requires:
// "prc_<account>_<messageId>".
func ProcessedDocID(accountID, messageID string) string {
	return "prc_" + accountID + "_" + messageID
}
