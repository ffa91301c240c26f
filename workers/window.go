package workers

import (
	"fmt"

	"piobridge/types"
)

// BlockRange is an inclusive range of block numbers
type BlockRange struct {
	From uint64
	To   uint64
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.From, r.To)
}

func (r BlockRange) Len() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// Window is the block range one poll looks at. Gap is set when blocks between the
// previous poll and this window were never scanned.
type Window struct {
	BlockRange
	Gap *BlockRange
}

// NextWindow computes the polling window ending at head. lastSeen is the last block
// scanned by the previous poll, -1 if there was none. The window never exceeds size
// blocks, blocks skipped because of that are reported as Gap and left to a backfill.
func NextWindow(lastSeen int64, head uint64, size uint64) Window {
	if size == 0 {
		size = 1
	}

	from := uint64(0)
	if head+1 > size {
		from = head + 1 - size
	}
	w := Window{BlockRange: BlockRange{From: from, To: head}}

	if lastSeen >= 0 && uint64(lastSeen)+1 < from {
		w.Gap = &BlockRange{From: uint64(lastSeen) + 1, To: from - 1}
	}
	return w
}

// Batches splits r in consecutive ranges of at most size blocks, the way backfills
// walk a long range.
func Batches(r BlockRange, size uint64) []BlockRange {
	if size == 0 {
		size = 1
	}
	res := make([]BlockRange, 0)
	for from := r.From; from <= r.To; from += size {
		to := from + size - 1
		if to > r.To || to < from {
			to = r.To
		}
		res = append(res, BlockRange{From: from, To: to})
		if to == r.To {
			break
		}
	}
	return res
}

// SelectNew drops events already processed and duplicate deliveries of the same log,
// keeping the order in which the events were observed.
func SelectNew(events []*types.LockedEvent, isProcessed func(types.EventMarker) (bool, error)) ([]*types.LockedEvent, error) {
	seen := make(map[types.EventMarker]bool, len(events))
	res := make([]*types.LockedEvent, 0, len(events))
	for _, ev := range events {
		m := ev.Marker()
		if seen[m] {
			continue
		}
		seen[m] = true

		done, err := isProcessed(m)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		res = append(res, ev)
	}
	return res, nil
}
