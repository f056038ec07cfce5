package webhook

import "testing"

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern, eventType string
		want               bool
	}{
		{"bonus.awarded", "bonus.awarded", true},
		{"bonus.awarded", "bonus.revoked", false},
		{"bonus.*", "bonus.awarded", true},
		{"bonus.*", "payment.created", false},
		{"*", "anything.at.all", true},
		{"*.created", "order.created", true},
		{"*.created", "order.deleted", false},
		{"order.*.failed", "order.payment.failed", true},
		// literal dots must not act as regex wildcards
		{"bonus.x", "bonusAx", false},
		{"bonus.*", "bonusX.awarded", false},
	}
	for _, c := range cases {
		if got := Matches(c.pattern, c.eventType); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.pattern, c.eventType, got, c.want)
		}
	}
}
