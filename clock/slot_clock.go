package clock

import (
	"errors"
	"time"
)

var (
	ErrBadSlotDuration  = errors.New("slot duration must be positive")
	ErrBadSlotsPerEpoch = errors.New("slots per epoch must be positive")
)

// SlotClock converts wall-clock time into discrete (epoch, slot) coordinates.
// It holds no mutable state: every conversion is a pure function of the
// configured genesis time, slot duration and epoch length.
type SlotClock struct {
	genesis       time.Time
	slotDuration  time.Duration
	slotsPerEpoch uint64
}

func NewSlotClock(genesis time.Time, slotDuration time.Duration, slotsPerEpoch uint64) (*SlotClock, error) {
	if slotDuration <= 0 {
		return nil, ErrBadSlotDuration
	}
	if slotsPerEpoch == 0 {
		return nil, ErrBadSlotsPerEpoch
	}
	return &SlotClock{
		genesis:       genesis,
		slotDuration:  slotDuration,
		slotsPerEpoch: slotsPerEpoch,
	}, nil
}

func (c *SlotClock) Genesis() time.Time          { return c.genesis }
func (c *SlotClock) SlotDuration() time.Duration { return c.slotDuration }
func (c *SlotClock) SlotsPerEpoch() uint64       { return c.slotsPerEpoch }

// AbsSlotAt returns the absolute slot number elapsed since genesis at t.
// Times before genesis map to slot 0.
func (c *SlotClock) AbsSlotAt(t time.Time) uint64 {
	if t.Before(c.genesis) {
		return 0
	}
	return uint64(t.Sub(c.genesis) / c.slotDuration)
}

// SlotAt maps a timestamp to (epoch, slot-within-epoch) coordinates.
func (c *SlotClock) SlotAt(t time.Time) (epoch uint64, slot uint64) {
	return c.Coords(c.AbsSlotAt(t))
}

// Coords splits an absolute slot into (epoch, slot-within-epoch).
func (c *SlotClock) Coords(abs uint64) (epoch uint64, slot uint64) {
	return abs / c.slotsPerEpoch, abs % c.slotsPerEpoch
}

// Abs recombines (epoch, slot-within-epoch) into an absolute slot.
func (c *SlotClock) Abs(epoch uint64, slot uint64) uint64 {
	return epoch*c.slotsPerEpoch + slot
}

// TimeOfAbsSlot returns the wall-clock start of an absolute slot.
func (c *SlotClock) TimeOfAbsSlot(abs uint64) time.Time {
	return c.genesis.Add(time.Duration(abs) * c.slotDuration)
}
