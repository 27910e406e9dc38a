package leadership

import (
	"norn/ledger"
)

// Eligibility decides whether a node is entitled to produce the block for a
// slot. Implementations must be deterministic given the same ledger state and
// slot: independently evaluating nodes must agree. The returned proof is
// carried in the produced block (for the schedule predicate the block
// signature itself is the proof, so it is empty here).
type Eligibility interface {
	Evaluate(epoch uint64, slot uint64, absSlot uint64, nodeID string, tipState *ledger.State) (bool, []byte)
}

// ScheduleEligibility grants leadership from a static slot schedule. The
// ledger state is ignored: entitlement depends only on the slot coordinate.
type ScheduleEligibility struct {
	schedule *Schedule
}

func NewScheduleEligibility(schedule *Schedule) *ScheduleEligibility {
	return &ScheduleEligibility{schedule: schedule}
}

func (e *ScheduleEligibility) Evaluate(_ uint64, _ uint64, absSlot uint64, nodeID string, _ *ledger.State) (bool, []byte) {
	leader, ok := e.schedule.LeaderAt(absSlot)
	return ok && leader == nodeID, nil
}

// LeaderFor exposes the expected leader lookup used by the block pipeline to
// reject externally received blocks from a producer the schedule does not name.
func (e *ScheduleEligibility) LeaderFor(absSlot uint64) (string, bool) {
	return e.schedule.LeaderAt(absSlot)
}
