package types

import "strings"

// Event is the flattened, string-keyed form of an engine event used by
// archives, exports and streaming subscribers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// accountKeys name the attributes that identify the account an event
// concerns, checked in order.
var accountKeys = []string{"borrower", "depositor", "staker", "account", "redeemer", "liquidator", "from"}

// Attr returns the attribute stored under key, or "" when absent.
func (e *Event) Attr(key string) string {
	if e == nil {
		return ""
	}
	return e.Attributes[key]
}

// Account returns the lower-cased address the event is about, or "" for
// system-wide events such as price updates.
func (e *Event) Account() string {
	for _, key := range accountKeys {
		if value := e.Attr(key); value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
