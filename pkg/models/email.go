package models

import "time"

// Address is a single RFC-5322 mailbox.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// FetchedMessage is the raw shape returned by the IMAP connector before
// body sanitisation: an envelope plus the untouched RFC-822 source.
type FetchedMessage struct {
	UID       uint32
	MessageID string
	From      Address
	To        []Address
	Subject   string
	Date      time.Time
	RawRFC822 []byte
}

// Parsed is the sanitised shape the ingestion core actually consumes,
// produced by an external (or the bundled default) body parser from a
// FetchedMessage's RawRFC822 (spec.md §1). The core never inspects
// RawRFC822 itself.
type Parsed struct {
	MessageID string
	UID       uint32
	From      Address
	To        []Address
	Subject   string
	Date      time.Time
	BodyText  string
}
