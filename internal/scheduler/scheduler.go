// Package scheduler implements the Schedule entity (spec §3): a
// circular list of {weekday, hour, minute} entries, each carrying the
// runmode/dhwmode/legionella/recycle the plant should apply from that
// point until the next entry. Lookup returns the most recent entry at
// or before the current wall time, wrapping across the week boundary.
package scheduler

import (
	"database/sql"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oebus/hvac-plant/internal/mode"
	"github.com/oebus/hvac-plant/internal/xerr"
)

// Entry is one schedule changeover point.
type Entry struct {
	Weekday time.Weekday
	Hour    int
	Minute  int

	Runmode    mode.Runmode
	DHWMode    mode.Runmode
	Legionella bool
	Recycle    bool
}

// minuteOfWeek orders entries within a single 7-day cycle.
func (e Entry) minuteOfWeek() int {
	return int(e.Weekday)*24*60 + e.Hour*60 + e.Minute
}

// Schedule holds a sorted, circular list of Entry values.
type Schedule struct {
	mu      sync.RWMutex
	entries []Entry

	db          *sql.DB
	lastApplied int
}

// New builds a Schedule from entries, sorted by weekday/hour/minute.
// An empty entries list is valid; Lookup then always returns an Entry
// with runmode and dhwmode off.
func New(entries []Entry) *Schedule {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].minuteOfWeek() < sorted[j].minuteOfWeek() })
	return &Schedule{entries: sorted, lastApplied: -1}
}

// Lookup returns the most recent entry at or before now, treating the
// list as circular: if now falls before the first entry of the week,
// the last entry of the previous week's cycle applies.
func (s *Schedule) Lookup(now time.Time) Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return Entry{Runmode: mode.RunOff, DHWMode: mode.RunOff}
	}

	nowMOW := int(now.Weekday())*24*60 + now.Hour()*60 + now.Minute()

	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].minuteOfWeek() > nowMOW
	}) - 1

	if idx < 0 {
		idx = len(s.entries) - 1 // wrap to the last entry of the prior cycle
	}
	return s.entries[idx]
}

// OpenPersistence attaches a sqlite-backed record of the last-applied
// entry index at path (grounded on the teacher's db.InitializeIfMissing
// touch-then-seed pattern), and restores it if present.
func (s *Schedule) OpenPersistence(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return xerr.Wrap(xerr.StoreIO, "open schedule db", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS last_applied (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		entry_index INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return xerr.Wrap(xerr.StoreIO, "create last_applied table", err)
	}

	s.mu.Lock()
	s.db = db
	var idx int
	row := db.QueryRow(`SELECT entry_index FROM last_applied WHERE id = 1`)
	if err := row.Scan(&idx); err == nil {
		s.lastApplied = idx
	}
	s.mu.Unlock()
	return nil
}

// ClosePersistence releases the sqlite handle opened by OpenPersistence.
func (s *Schedule) ClosePersistence() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// RecordApplied persists which entry index was last applied, so a
// restart can detect whether the schedule advanced while offline. A
// nil persistence backend makes this a no-op.
func (s *Schedule) RecordApplied(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastApplied = idx
	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO last_applied (id, entry_index) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET entry_index = excluded.entry_index`, idx)
	if err != nil {
		return xerr.Wrap(xerr.StoreIO, "record applied schedule entry", err)
	}
	return nil
}

// LastApplied returns the last recorded entry index, or -1 if none.
func (s *Schedule) LastApplied() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastApplied
}
