package pattern

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestMatcher_Member(t *testing.T) {
	tests := []struct {
		name     string
		sources  []string
		excludes []string
		path     string
		want     bool
	}{
		{"literal include", []string{"README.md"}, nil, "README.md", true},
		{"star matches one segment", []string{"src/*.go"}, nil, "src/main.go", true},
		{"star does not cross separator", []string{"src/*.go"}, nil, "src/pkg/main.go", false},
		{"doublestar crosses separators", []string{"src/**/*.go"}, nil, "src/pkg/deep/main.go", true},
		{"excluded wins over included", []string{"**"}, []string{"build/"}, "build/out.bin", false},
		{"git always excluded", []string{"**"}, nil, ".git/HEAD", false},
		{"cccopy dir always excluded", []string{"**"}, nil, ".cccopy/lock/production.lockdir/owner", false},
		{"not included at all", []string{"docs/**"}, nil, "src/main.go", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.sources, tt.excludes)
			if got := m.Member(tt.path); got != tt.want {
				t.Errorf("Member(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatcher_IncludesExcludedSeparately(t *testing.T) {
	m := New([]string{"**/*.txt"}, []string{"tmp/"})

	if !m.Includes("tmp/a.txt") {
		t.Fatal("expected tmp/a.txt to be included by source pattern")
	}
	if !m.Excluded("tmp/a.txt") {
		t.Fatal("expected tmp/a.txt to be excluded")
	}
	if m.Member("tmp/a.txt") {
		t.Fatal("expected tmp/a.txt to not be an effective member")
	}
}

func TestMatcher_WalkMembers(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("src/main.go", "package main")
	write("src/pkg/helper.go", "package pkg")
	write("build/out.bin", "binary")
	write(".git/HEAD", "ref: refs/heads/main")

	m := New([]string{"src/**"}, []string{"build/"})
	got, err := m.WalkMembers(dir)
	if err != nil {
		t.Fatalf("WalkMembers: %v", err)
	}
	sort.Strings(got)
	want := []string{"src/main.go", "src/pkg/helper.go"}
	if len(got) != len(want) {
		t.Fatalf("WalkMembers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("WalkMembers = %v, want %v", got, want)
		}
	}
}
