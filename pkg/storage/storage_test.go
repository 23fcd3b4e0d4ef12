package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/krisarmstrong/bacstack/pkg/bbmd"
	"github.com/krisarmstrong/bacstack/pkg/bip"
)

func TestStorageAddAndListRuns(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "runs.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	rec1 := RunRecord{
		StartedAt:             time.Now().Add(-1 * time.Hour),
		Duration:              time.Minute,
		ConfigName:            "test.yaml",
		PortsBound:            1,
		NPDURouted:            100,
		TransactionsCompleted: 10,
		Errors:                1,
	}
	rec2 := RunRecord{
		StartedAt:             time.Now(),
		Duration:              2 * time.Minute,
		ConfigName:            "test2.yaml",
		PortsBound:            2,
		NPDURouted:            200,
		TransactionsCompleted: 20,
		Errors:                0,
	}

	if err := store.AddRun(rec1); err != nil {
		t.Fatalf("AddRun(rec1) error = %v", err)
	}
	if err := store.AddRun(rec2); err != nil {
		t.Fatalf("AddRun(rec2) error = %v", err)
	}

	records, err := store.ListRuns(0) // exercise default limit handling
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ListRuns() len = %d, want 2", len(records))
	}
	if records[0].ConfigName != rec2.ConfigName || records[0].ID != 2 {
		t.Fatalf("ListRuns() first record = %+v, want latest run with ID 2", records[0])
	}
	if records[1].ConfigName != rec1.ConfigName || records[1].ID != 1 {
		t.Fatalf("ListRuns() second record = %+v, want oldest run with ID 1", records[1])
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	if _, err := Open("disabled"); err == nil {
		t.Fatalf("Open(\"disabled\") expected error, got nil")
	}
}

func TestBBMDSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "bbmd.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	snap := BBMDSnapshot{
		BDT: []bbmd.BDTEntry{{Address: bip.Mac{192, 168, 1, 1, 0xBA, 0xC0}}},
		FDT: []bbmd.FDTEntry{{Address: bip.Mac{192, 168, 1, 50, 0xBA, 0xC0}, TTL: 300}},
	}
	if err := store.SaveBBMDSnapshot(snap); err != nil {
		t.Fatalf("SaveBBMDSnapshot: %v", err)
	}

	got, err := store.LoadBBMDSnapshot()
	if err != nil {
		t.Fatalf("LoadBBMDSnapshot: %v", err)
	}
	if len(got.BDT) != 1 || got.BDT[0].Address != snap.BDT[0].Address {
		t.Fatalf("BDT mismatch: %+v", got.BDT)
	}
	if len(got.FDT) != 1 || got.FDT[0].Address != snap.FDT[0].Address || got.FDT[0].TTL != 300 {
		t.Fatalf("FDT mismatch: %+v", got.FDT)
	}
}

func TestLoadBBMDSnapshotEmptyWhenNeverSaved(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "empty.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	got, err := store.LoadBBMDSnapshot()
	if err != nil {
		t.Fatalf("LoadBBMDSnapshot: %v", err)
	}
	if got.BDT != nil || got.FDT != nil {
		t.Fatalf("expected zero-value snapshot, got %+v", got)
	}
}
