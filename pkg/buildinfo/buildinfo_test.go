package buildinfo

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"
)

func TestGet_ReturnsDefaults(t *testing.T) {
	info := Get("dealbook")

	if info.Name != "dealbook" {
		t.Errorf("expected Name='dealbook', got %q", info.Name)
	}
	if info.Version != "dev" {
		t.Errorf("expected Version='dev', got %q", info.Version)
	}
	if info.Commit == "" {
		t.Error("expected Commit to be non-empty")
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("expected GoVersion=%q, got %q", runtime.Version(), info.GoVersion)
	}
}

func TestGet_StampedCommitWins(t *testing.T) {
	orig := Commit
	defer func() { Commit = orig }()
	Commit = "abc1234"

	if got := Get("dealbook").Commit; got != "abc1234" {
		t.Errorf("expected Commit='abc1234', got %q", got)
	}
}

func TestString(t *testing.T) {
	origV, origC, origB := Version, Commit, BuildTime
	defer func() { Version, Commit, BuildTime = origV, origC, origB }()
	Version, Commit, BuildTime = "v1.2.3", "deadbee", "2026-01-01T00:00:00Z"

	want := "v1.2.3 (deadbee, 2026-01-01T00:00:00Z)"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestInfo_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(Get("dealbook"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"name"`, `"version"`, `"commit"`, `"build_time"`, `"go_version"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("JSON missing field %s: %s", field, data)
		}
	}
}
