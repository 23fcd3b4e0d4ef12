// Package stats provides runtime statistics collection and export functionality
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"
)

// Statistics holds all runtime statistics for bacstackd
type Statistics struct {
	mu sync.RWMutex

	// General stats
	StartTime  time.Time     `json:"start_time"`
	Uptime     time.Duration `json:"uptime_seconds"`
	ConfigFile string        `json:"config_file"`
	Version    string        `json:"version"`

	// Router stats
	NPDURouted       int64            `json:"npdu_routed"`
	NPDUDiscarded    int64            `json:"npdu_discarded"`
	DiscardReasons   map[string]int64 `json:"discard_reasons"`
	NetworksKnown    int              `json:"networks_known"`
	NetworksBusy     int              `json:"networks_busy"`

	// TSM stats
	TransactionsCompleted int64            `json:"transactions_completed"`
	TransactionOutcomes   map[string]int64 `json:"transaction_outcomes"`
	InvokeIDsInUse        int              `json:"invoke_ids_in_use"`

	// Segmentation stats
	SegmentsSent       int64 `json:"segments_sent"`
	SegmentsReceived   int64 `json:"segments_received"`
	SegmentsDuplicated int64 `json:"segments_duplicated"`

	// BBMD stats
	BBMDForwardedNPDUs int64 `json:"bbmd_forwarded_npdus"`
	BBMDFanOutTotal    int64 `json:"bbmd_fan_out_total"`
	FDTEntries         int   `json:"fdt_entries"`
	BDTEntries         int   `json:"bdt_entries"`

	// BACnet/SC stats
	SCConnectsAccepted   int64 `json:"sc_connects_accepted"`
	SCConnectsInitiated  int64 `json:"sc_connects_initiated"`
	SCHeartbeatsSent     int64 `json:"sc_heartbeats_sent"`
	SCDisconnects        int64 `json:"sc_disconnects"`
	SCVMACCollisions     int64 `json:"sc_vmac_collisions"`

	// System stats
	MemoryUsageMB  uint64 `json:"memory_usage_mb"`
	GoroutineCount int    `json:"goroutine_count"`
	CPUCount       int    `json:"cpu_count"`
}

// StatisticsSnapshot is a mutex-free copy of Statistics for export
type StatisticsSnapshot struct {
	StartTime  time.Time     `json:"start_time"`
	Uptime     time.Duration `json:"uptime_seconds"`
	ConfigFile string        `json:"config_file"`
	Version    string        `json:"version"`

	NPDURouted     int64            `json:"npdu_routed"`
	NPDUDiscarded  int64            `json:"npdu_discarded"`
	DiscardReasons map[string]int64 `json:"discard_reasons"`
	NetworksKnown  int              `json:"networks_known"`
	NetworksBusy   int              `json:"networks_busy"`

	TransactionsCompleted int64            `json:"transactions_completed"`
	TransactionOutcomes   map[string]int64 `json:"transaction_outcomes"`
	InvokeIDsInUse        int              `json:"invoke_ids_in_use"`

	SegmentsSent       int64 `json:"segments_sent"`
	SegmentsReceived   int64 `json:"segments_received"`
	SegmentsDuplicated int64 `json:"segments_duplicated"`

	BBMDForwardedNPDUs int64 `json:"bbmd_forwarded_npdus"`
	BBMDFanOutTotal    int64 `json:"bbmd_fan_out_total"`
	FDTEntries         int   `json:"fdt_entries"`
	BDTEntries         int   `json:"bdt_entries"`

	SCConnectsAccepted  int64 `json:"sc_connects_accepted"`
	SCConnectsInitiated int64 `json:"sc_connects_initiated"`
	SCHeartbeatsSent    int64 `json:"sc_heartbeats_sent"`
	SCDisconnects       int64 `json:"sc_disconnects"`
	SCVMACCollisions    int64 `json:"sc_vmac_collisions"`

	MemoryUsageMB  uint64 `json:"memory_usage_mb"`
	GoroutineCount int    `json:"goroutine_count"`
	CPUCount       int    `json:"cpu_count"`
}

// NewStatistics creates a new Statistics instance
func NewStatistics(configFile, version string) *Statistics {
	return &Statistics{
		StartTime:           time.Now(),
		ConfigFile:          configFile,
		Version:             version,
		DiscardReasons:      make(map[string]int64),
		TransactionOutcomes: make(map[string]int64),
	}
}

// Update refreshes runtime statistics (should be called periodically)
func (s *Statistics) Update() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Uptime = time.Since(s.StartTime)
	s.GoroutineCount = runtime.NumGoroutine()
	s.CPUCount = runtime.NumCPU()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.MemoryUsageMB = m.Alloc / 1024 / 1024
}

// IncrementNPDURouted increments the count of NPDUs successfully routed.
func (s *Statistics) IncrementNPDURouted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NPDURouted++
}

// IncrementNPDUDiscarded increments the discard count, keyed by reason
// (e.g. "no-route", "busy-network", "hop-count-zero").
func (s *Statistics) IncrementNPDUDiscarded(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NPDUDiscarded++
	s.DiscardReasons[reason]++
}

// SetNetworkCounts records the router's current known/busy network counts.
func (s *Statistics) SetNetworkCounts(known, busy int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NetworksKnown = known
	s.NetworksBusy = busy
}

// IncrementTransactionOutcome records a completed TSM transaction, keyed
// by outcome ("ack", "reject", "error", "abort", "timeout").
func (s *Statistics) IncrementTransactionOutcome(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TransactionsCompleted++
	s.TransactionOutcomes[outcome]++
}

// SetInvokeIDsInUse records the TSM's current in-flight invoke ID count.
func (s *Statistics) SetInvokeIDsInUse(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InvokeIDsInUse = n
}

// IncrementSegmentsSent increments the segments-sent counter.
func (s *Statistics) IncrementSegmentsSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SegmentsSent++
}

// IncrementSegmentsReceived increments the segments-received counter.
func (s *Statistics) IncrementSegmentsReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SegmentsReceived++
}

// IncrementSegmentsDuplicated increments the duplicate-segment counter.
func (s *Statistics) IncrementSegmentsDuplicated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SegmentsDuplicated++
}

// RecordBBMDFanOut records one Forwarded-NPDU relay fanned out to
// fanOut destinations.
func (s *Statistics) RecordBBMDFanOut(fanOut int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BBMDForwardedNPDUs++
	s.BBMDFanOutTotal += int64(fanOut)
}

// SetBBMDTableSizes records the BBMD's current FDT/BDT entry counts.
func (s *Statistics) SetBBMDTableSizes(fdt, bdt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FDTEntries = fdt
	s.BDTEntries = bdt
}

// IncrementSCConnectsAccepted increments the accepting-side connect count.
func (s *Statistics) IncrementSCConnectsAccepted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SCConnectsAccepted++
}

// IncrementSCConnectsInitiated increments the initiating-side connect count.
func (s *Statistics) IncrementSCConnectsInitiated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SCConnectsInitiated++
}

// IncrementSCHeartbeats increments the heartbeats-sent counter.
func (s *Statistics) IncrementSCHeartbeats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SCHeartbeatsSent++
}

// IncrementSCDisconnects increments the disconnect counter.
func (s *Statistics) IncrementSCDisconnects() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SCDisconnects++
}

// IncrementSCVMACCollisions increments the VMAC collision counter.
func (s *Statistics) IncrementSCVMACCollisions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SCVMACCollisions++
}

// ExportJSON exports statistics to a JSON file
func (s *Statistics) ExportJSON(filename string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.snapshot()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal statistics to JSON: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}

	return nil
}

// snapshot creates a read-safe copy of statistics
// Must be called with read lock held
func (s *Statistics) snapshot() StatisticsSnapshot {
	snapshot := StatisticsSnapshot{
		StartTime:             s.StartTime,
		Uptime:                s.Uptime,
		ConfigFile:            s.ConfigFile,
		Version:               s.Version,
		NPDURouted:            s.NPDURouted,
		NPDUDiscarded:         s.NPDUDiscarded,
		NetworksKnown:         s.NetworksKnown,
		NetworksBusy:          s.NetworksBusy,
		TransactionsCompleted: s.TransactionsCompleted,
		InvokeIDsInUse:        s.InvokeIDsInUse,
		SegmentsSent:          s.SegmentsSent,
		SegmentsReceived:      s.SegmentsReceived,
		SegmentsDuplicated:    s.SegmentsDuplicated,
		BBMDForwardedNPDUs:    s.BBMDForwardedNPDUs,
		BBMDFanOutTotal:       s.BBMDFanOutTotal,
		FDTEntries:            s.FDTEntries,
		BDTEntries:            s.BDTEntries,
		SCConnectsAccepted:    s.SCConnectsAccepted,
		SCConnectsInitiated:   s.SCConnectsInitiated,
		SCHeartbeatsSent:      s.SCHeartbeatsSent,
		SCDisconnects:         s.SCDisconnects,
		SCVMACCollisions:      s.SCVMACCollisions,
		MemoryUsageMB:         s.MemoryUsageMB,
		GoroutineCount:        s.GoroutineCount,
		CPUCount:              s.CPUCount,
		DiscardReasons:        make(map[string]int64),
		TransactionOutcomes:   make(map[string]int64),
	}

	for k, v := range s.DiscardReasons {
		snapshot.DiscardReasons[k] = v
	}
	for k, v := range s.TransactionOutcomes {
		snapshot.TransactionOutcomes[k] = v
	}

	return snapshot
}

// GetSnapshot returns a thread-safe snapshot of current statistics
func (s *Statistics) GetSnapshot() StatisticsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// String returns a human-readable summary of statistics
func (s *Statistics) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fmt.Sprintf(
		"Statistics Summary:\n"+
			"  Uptime: %s\n"+
			"  NPDUs routed: %d (discarded %d)\n"+
			"  Transactions completed: %d\n"+
			"  Segments sent/received: %d/%d\n"+
			"  BBMD forwarded NPDUs: %d (fan-out total %d)\n"+
			"  SC connects accepted/initiated: %d/%d\n"+
			"  Memory: %d MB\n"+
			"  Goroutines: %d\n",
		s.Uptime.Round(time.Second),
		s.NPDURouted, s.NPDUDiscarded,
		s.TransactionsCompleted,
		s.SegmentsSent, s.SegmentsReceived,
		s.BBMDForwardedNPDUs, s.BBMDFanOutTotal,
		s.SCConnectsAccepted, s.SCConnectsInitiated,
		s.MemoryUsageMB,
		s.GoroutineCount,
	)
}
