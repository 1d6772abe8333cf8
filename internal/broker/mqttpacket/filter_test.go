package mqttpacket

import "testing"

func TestMatches(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"/v1/a/b", "/v1/a/b", true},
		{"/v1/+/b", "/v1/a/b", true},
		{"/v1/+/b", "/v1/a/c", false},
		{"/v1/a/b", "/v1/a/c", false},
		{"/v1/+/+", "/v1/a/b", true},
		{"/v1/a", "/v1/a/b", false}, // length mismatch, # not supported
		{"/v1/#", "/v1/a/b", false}, // multi-level wildcard intentionally not supported
	}

	for _, c := range cases {
		if got := Matches(c.filter, c.topic); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.filter, c.topic, got, c.want)
		}
	}
}
