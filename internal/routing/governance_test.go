package routing

import (
	"context"
	"strings"
	"testing"
)

func TestDenylistAvailable(t *testing.T) {
	p := NewDenylistPolicy(nil)
	if p.Available() {
		t.Fatal("empty policy should report unavailable")
	}
	p.Deny("rogue", "compromised key")
	if !p.Available() {
		t.Fatal("policy with entries should report available")
	}
}

func TestDenylistAuthorizeSend(t *testing.T) {
	p := NewDenylistPolicy(map[string]string{"rogue": "compromised key"})
	ctx := context.Background()

	if err := p.AuthorizeSend(ctx, "crm", "billing"); err != nil {
		t.Fatalf("clean pair vetoed: %v", err)
	}

	cases := []struct{ from, to string }{
		{"rogue", "billing"},
		{"crm", "rogue"},
		{"ROGUE", "billing"},
		{"rogue@mainframe", "billing"},
		{"crm", "rogue@local"},
	}
	for _, tc := range cases {
		err := p.AuthorizeSend(ctx, tc.from, tc.to)
		if err == nil {
			t.Fatalf("%s -> %s should be vetoed", tc.from, tc.to)
		}
		if !strings.Contains(err.Error(), "compromised key") {
			t.Fatalf("veto should name the reason: %v", err)
		}
	}
}
