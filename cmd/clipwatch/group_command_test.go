package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

const sampleClips = `[
	{"id":"a","created_at":"2026-01-01T00:00:00Z","url":"https://clips.example/a","viewer_count":100},
	{"id":"b","created_at":"2026-01-01T00:00:10Z","url":"https://clips.example/b","viewer_count":100},
	{"id":"c","created_at":"2026-01-01T00:00:20Z","url":"https://clips.example/c","viewer_count":100},
	{"id":"d","created_at":"2026-01-01T00:05:00Z","url":"https://clips.example/d","viewer_count":100}
]`

func TestRunGroup(t *testing.T) {
	tests := []struct {
		name       string
		opts       groupOptions
		wantGroups int
	}{
		{"fixed minimum", groupOptions{windowSec: 30, minimum: "3"}, 1},
		{"minimum too high", groupOptions{windowSec: 30, minimum: "4"}, 0},
		{"auto minimum", groupOptions{windowSec: 30, minimum: "auto"}, 1},
		{"narrow window", groupOptions{windowSec: 5, minimum: "2"}, 0},
		{"high preset", groupOptions{mode: "high"}, 1},
		{"low preset", groupOptions{mode: "low"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.jsonOut = true
			var out bytes.Buffer
			if err := runGroup(strings.NewReader(sampleClips), &out, tt.opts); err != nil {
				t.Fatalf("runGroup() error = %v", err)
			}
			var groups []groupOutput
			if err := json.Unmarshal(out.Bytes(), &groups); err != nil {
				t.Fatalf("Failed to unmarshal output: %v", err)
			}
			if len(groups) != tt.wantGroups {
				t.Errorf("groups = %d, want %d", len(groups), tt.wantGroups)
			}
		})
	}
}

func TestRunGroupText(t *testing.T) {
	var out bytes.Buffer
	if err := runGroup(strings.NewReader(sampleClips), &out, groupOptions{windowSec: 30, minimum: "2"}); err != nil {
		t.Fatalf("runGroup() error = %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "4 clips") || !strings.Contains(got, "1 groups") {
		t.Errorf("summary missing: %q", got)
	}
	if !strings.Contains(got, "https://clips.example/c") || strings.Contains(got, "https://clips.example/d") {
		t.Errorf("unexpected members: %q", got)
	}
}

func TestRunGroupErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  groupOptions
	}{
		{"bad json", `{`, groupOptions{windowSec: 30, minimum: "2"}},
		{"bad minimum", sampleClips, groupOptions{windowSec: 30, minimum: "zero"}},
		{"zero window", sampleClips, groupOptions{windowSec: 0, minimum: "2"}},
		{"manual mode", sampleClips, groupOptions{mode: "manual"}},
		{"unknown mode", sampleClips, groupOptions{mode: "turbo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := runGroup(strings.NewReader(tt.input), &bytes.Buffer{}, tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"run", "migrate", "group"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
