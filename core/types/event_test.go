package types

import "testing"

func TestEventAccount(t *testing.T) {
	ev := &Event{Type: "cdp.stability.deposited", Attributes: map[string]string{
		"liquidator": "0xBB",
		"depositor":  "0xAA",
	}}
	if got := ev.Account(); got != "0xaa" {
		t.Fatalf("account = %q, want 0xaa", got)
	}
	price := &Event{Type: "cdp.price.updated", Attributes: map[string]string{"price": "2000"}}
	if got := price.Account(); got != "" {
		t.Fatalf("price event account = %q", got)
	}
	var missing *Event
	if missing.Attr("price") != "" || missing.Account() != "" {
		t.Fatalf("nil event should have no attributes")
	}
}
