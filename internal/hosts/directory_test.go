package hosts

import (
	"os"
	"path/filepath"
	"testing"
)

func writeHostsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromYAML(t *testing.T) {
	path := writeHostsFile(t, `
hosts:
  - id: mainframe
    name: Mainframe
    url: http://mainframe:8080/
  - id: workshop
    url: http://workshop:8080
    enabled: false
`)
	d := New("devbox", "http://devbox:8080", path, "")
	if err := d.Load(); err != nil {
		t.Fatal(err)
	}

	h := d.Lookup("mainframe")
	if h == nil {
		t.Fatal("mainframe not found")
	}
	if h.URL != "http://mainframe:8080" {
		t.Fatalf("trailing slash not trimmed: %q", h.URL)
	}
	if !h.Enabled {
		t.Fatal("enabled should default to true")
	}
	if w := d.Lookup("workshop"); w == nil || w.Enabled {
		t.Fatal("workshop should load as disabled")
	}
}

func TestSelfAutoInsert(t *testing.T) {
	path := writeHostsFile(t, "hosts:\n  - id: mainframe\n    url: http://mainframe:8080\n")
	d := New("devbox", "http://devbox:8080", path, "")

	self := d.Self()
	if self == nil || self.ID != "devbox" {
		t.Fatalf("self entry missing: %+v", self)
	}
	if self.URL != "http://devbox:8080" {
		t.Fatalf("self URL = %q", self.URL)
	}
	if len(d.All()) != 2 {
		t.Fatalf("expected 2 hosts, got %d", len(d.All()))
	}
}

func TestIsSelf(t *testing.T) {
	d := New("Devbox", "http://devbox:8080", "", "")

	cases := []struct {
		hostID string
		want   bool
	}{
		{"", true},
		{"local", true},
		{"LOCAL", true},
		{"devbox", true},
		{"DEVBOX", true},
		{"mainframe", false},
	}
	for _, tc := range cases {
		if got := d.IsSelf(tc.hostID); got != tc.want {
			t.Errorf("IsSelf(%q) = %v, want %v", tc.hostID, got, tc.want)
		}
	}
}

func TestLocalAliasLookup(t *testing.T) {
	d := New("devbox", "http://devbox:8080", "", "")
	h := d.Lookup("local")
	if h == nil || h.ID != "devbox" {
		t.Fatalf("local alias should resolve to self, got %+v", h)
	}
}

func TestEnvFallback(t *testing.T) {
	d := New("devbox", "http://devbox:8080", "", "mainframe=http://mainframe:8080, workshop=http://workshop:9090")
	if h := d.Lookup("mainframe"); h == nil || h.URL != "http://mainframe:8080" {
		t.Fatalf("mainframe from env: %+v", h)
	}
	if h := d.Lookup("workshop"); h == nil || h.URL != "http://workshop:9090" {
		t.Fatalf("workshop from env: %+v", h)
	}
}

func TestInvalidateReloads(t *testing.T) {
	path := writeHostsFile(t, "hosts:\n  - id: mainframe\n    url: http://mainframe:8080\n")
	d := New("devbox", "http://devbox:8080", path, "")

	if d.Lookup("workshop") != nil {
		t.Fatal("workshop should not exist yet")
	}

	// Rewrite the file; the cached snapshot must survive until Invalidate.
	if err := os.WriteFile(path, []byte("hosts:\n  - id: workshop\n    url: http://workshop:8080\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if d.Lookup("workshop") != nil {
		t.Fatal("cache should not reload on its own")
	}

	d.Invalidate()
	if d.Lookup("workshop") == nil {
		t.Fatal("workshop should appear after Invalidate")
	}
	if d.Lookup("mainframe") != nil {
		t.Fatal("mainframe should be gone after Invalidate")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := writeHostsFile(t, "hosts: [notamap\n")
	d := New("devbox", "http://devbox:8080", path, "")
	if err := d.Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
