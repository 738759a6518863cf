package source

import "testing"

func TestRoundTrip(t *testing.T) {
	for _, raw := range []string{"git:https://x", "image:alpine", "local:/tmp/a"} {
		if got := Parse(raw).String(); got != raw {
			t.Errorf("Parse(%q).String() = %q", raw, got)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Source
	}{
		{"git:https://github.com/loft-sh/devpod@main", Source{Type: TypeGit, Value: "https://github.com/loft-sh/devpod@main"}},
		{"image:mcr.microsoft.com/devcontainers/go:1", Source{Type: TypeImage, Value: "mcr.microsoft.com/devcontainers/go:1"}},
		{"local:/home/user/project", Source{Type: TypeLocal, Value: "/home/user/project"}},
		{"garbage", Source{Type: TypeGit}},
		{"", Source{Type: TypeGit}},
		{"GIT:upper", Source{Type: TypeGit}},
	}

	for _, tt := range tests {
		if got := Parse(tt.raw); got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestGarbageStringifiesToBarePrefix(t *testing.T) {
	s := Parse("garbage")
	if s.Type != TypeGit || s.Value != "" {
		t.Fatalf("unexpected source %+v", s)
	}
	if s.String() != GitPrefix {
		t.Fatalf("expected %q, got %q", GitPrefix, s.String())
	}
	if !s.IsZero() {
		t.Fatal("expected zero source")
	}
}

func TestStringTrimsValue(t *testing.T) {
	s := Source{Type: TypeImage, Value: "  ubuntu:24.04 \n"}
	if got := s.String(); got != "image:ubuntu:24.04" {
		t.Fatalf("unexpected %q", got)
	}
}
