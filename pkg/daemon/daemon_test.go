package daemon

import (
	"path/filepath"
	"testing"
)

func TestExpandPathLeavesAbsolutePathAlone(t *testing.T) {
	got := expandPath("/var/lib/bacstackd/bacstackd.db")
	if got != filepath.Clean("/var/lib/bacstackd/bacstackd.db") {
		t.Fatalf("got %q", got)
	}
}

func TestExpandPathCleansRelativeDots(t *testing.T) {
	got := expandPath("./data/../data/bacstackd.db")
	if got != filepath.Clean("data/bacstackd.db") {
		t.Fatalf("got %q", got)
	}
}
