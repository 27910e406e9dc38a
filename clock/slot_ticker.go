package clock

import (
	"fmt"
	"time"

	"norn/exception"
	"norn/logx"
)

// SlotTick is emitted once at each slot boundary.
type SlotTick struct {
	Epoch uint64
	Slot  uint64 // slot within epoch
	Abs   uint64
	At    time.Time
}

// SlotTicker drives the leadership scheduler. It sleeps until the next slot
// boundary and emits a tick for the slot that is current at wake-up; after a
// process pause it therefore emits the current slot only, never a burst of
// every missed slot.
type SlotTicker struct {
	clock  *SlotClock
	out    chan SlotTick
	stopCh chan struct{}
}

func NewSlotTicker(clock *SlotClock) *SlotTicker {
	return &SlotTicker{
		clock:  clock,
		out:    make(chan SlotTick, 1),
		stopCh: make(chan struct{}),
	}
}

// C is the tick stream. Ticks are strictly monotonic in Abs.
func (t *SlotTicker) C() <-chan SlotTick {
	return t.out
}

func (t *SlotTicker) Start() {
	exception.SafeGoWithPanic("slotTicker", func() {
		t.run()
	})
}

func (t *SlotTicker) Stop() {
	close(t.stopCh)
}

func (t *SlotTicker) run() {
	var lastEmitted uint64
	emittedAny := false

	for {
		now := time.Now()
		if now.Before(t.clock.Genesis()) {
			if !t.sleepUntil(t.clock.Genesis()) {
				return
			}
			continue
		}

		abs := t.clock.AbsSlotAt(now)
		if !emittedAny || abs > lastEmitted {
			t.emit(abs, now)
			lastEmitted = abs
			emittedAny = true
		}

		if !t.sleepUntil(t.clock.TimeOfAbsSlot(abs + 1)) {
			return
		}
	}
}

func (t *SlotTicker) emit(abs uint64, at time.Time) {
	epoch, slot := t.clock.Coords(abs)
	tick := SlotTick{Epoch: epoch, Slot: slot, Abs: abs, At: at}
	select {
	case t.out <- tick:
	default:
		// Consumer still busy with a previous slot. The opportunity for this
		// slot is gone once it elapses, so dropping is the correct behavior.
		logx.Warn("CLOCK", fmt.Sprintf("Dropping tick for slot %d, consumer busy", abs))
	}
}

// sleepUntil waits for the deadline or the stop signal, reporting false on stop.
func (t *SlotTicker) sleepUntil(deadline time.Time) bool {
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.stopCh:
		return false
	}
}
