package leadership

import (
	"errors"
	"sort"
)

// ScheduleEntry defines the leader assignment for a contiguous range of
// absolute slots. StartSlot and EndSlot are inclusive.
type ScheduleEntry struct {
	StartSlot uint64 // first absolute slot in the range
	EndSlot   uint64 // last absolute slot in the range
	Leader    string // node pubkey responsible for these slots
}

// Schedule maintains an ordered, non-overlapping set of leader assignments.
type Schedule struct {
	entries []ScheduleEntry
}

// NewSchedule constructs a schedule and validates entries (sorted, non-overlapping).
func NewSchedule(entries []ScheduleEntry) (*Schedule, error) {
	s := &Schedule{entries: entries}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LeaderAt returns the leader for a given absolute slot, or false if none assigned.
func (s *Schedule) LeaderAt(absSlot uint64) (string, bool) {
	// binary search since entries sorted by StartSlot
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].StartSlot > absSlot
	})
	if i > 0 {
		e := s.entries[i-1]
		if absSlot >= e.StartSlot && absSlot <= e.EndSlot {
			return e.Leader, true
		}
	}
	return "", false
}

// AddEntry appends a new entry and keeps entries sorted; callers should
// Validate afterwards.
func (s *Schedule) AddEntry(entry ScheduleEntry) {
	s.entries = append(s.entries, entry)
	sort.Slice(s.entries, func(i, j int) bool {
		return s.entries[i].StartSlot < s.entries[j].StartSlot
	})
}

// Validate ensures entries are sorted by StartSlot and non-overlapping.
func (s *Schedule) Validate() error {
	if len(s.entries) == 0 {
		return nil
	}
	sort.Slice(s.entries, func(i, j int) bool {
		return s.entries[i].StartSlot < s.entries[j].StartSlot
	})
	for i := 1; i < len(s.entries); i++ {
		prev := s.entries[i-1]
		curr := s.entries[i]
		if curr.StartSlot <= prev.EndSlot {
			return errors.New("overlapping schedule entries detected")
		}
	}
	return nil
}

// Entries returns a copy of the underlying schedule entries.
func (s *Schedule) Entries() []ScheduleEntry {
	if len(s.entries) == 0 {
		return nil
	}
	out := make([]ScheduleEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// RoundRobinSchedule assigns slots [0, totalSlots) to the given validators in
// fixed rotation of slotsPerTurn. Deterministic for a fixed validator order,
// so every node derives the same schedule from genesis.
func RoundRobinSchedule(validators []string, slotsPerTurn uint64, totalSlots uint64) (*Schedule, error) {
	if len(validators) == 0 {
		return nil, errors.New("no validators for schedule")
	}
	if slotsPerTurn == 0 {
		return nil, errors.New("slots per turn must be positive")
	}
	var entries []ScheduleEntry
	turn := 0
	for start := uint64(0); start < totalSlots; start += slotsPerTurn {
		end := start + slotsPerTurn - 1
		if end >= totalSlots {
			end = totalSlots - 1
		}
		entries = append(entries, ScheduleEntry{
			StartSlot: start,
			EndSlot:   end,
			Leader:    validators[turn%len(validators)],
		})
		turn++
	}
	return NewSchedule(entries)
}
