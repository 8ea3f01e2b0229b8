package domain

import "testing"

func TestWebhookEventFilter(t *testing.T) {
	cases := []struct {
		events string
		event  string
		want   bool
	}{
		{"", "message.received", true},
		{"  ", "message.received", true},
		{"message.received", "message.received", true},
		{"message.received", "presence.update", false},
		{"message.received, session.connected", "session.connected", true},
		{"message.received,,presence.update", "presence.update", true},
		{"message.*", "message.received", false}, // no wildcard support
	}
	for _, tc := range cases {
		w := WebhookConfig{Events: tc.events}
		if got := w.Matches(tc.event); got != tc.want {
			t.Errorf("Matches(%q) with filter %q = %v, want %v", tc.event, tc.events, got, tc.want)
		}
	}
}

func TestWebhookEventList(t *testing.T) {
	w := WebhookConfig{Events: " a , b ,, c "}
	got := w.EventList()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("EventList = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("EventList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
