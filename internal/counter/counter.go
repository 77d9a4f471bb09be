// Package counter implements C4: the per-hart "currently consumable"
// count; exactly one of i_cnt, history, taken-count or not-taken-count
// is active at a time, with strict priority history > taken > notTaken
// > i_cnt (spec.md §3, §4.4).
package counter

import "github.com/riscv-trace/dqr/internal/dqrerr"

// Kind identifies which consumable is currently active.
type Kind int

const (
	KindNone Kind = iota
	KindICnt
	KindHistory
	KindTaken
	KindNotTaken
)

// Counter holds one hart's consumable state. The zero value is valid
// and empty.
type Counter struct {
	iCnt uint64

	history    uint64
	histBit    int // index of the next bit to yield, -1 once exhausted
	haveHistory bool

	taken    uint64
	haveTaken bool

	notTaken    uint64
	haveNotTaken bool
}

// stopBit returns the index of the highest set bit in h, or -1 if h==0.
func stopBit(h uint64) int {
	for i := 63; i >= 0; i-- {
		if h&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

func (c *Counter) anyOf(kinds ...bool) bool {
	for _, k := range kinds {
		if k {
			return true
		}
	}
	return false
}

// SetICnt installs a new instruction count, replacing any count still
// pending. It never conflicts with history/taken/notTaken: i_cnt is the
// lowest priority and coexists with them, being consumed only once
// nothing of higher priority is pending.
func (c *Counter) SetICnt(n uint64) {
	c.iCnt = n
}

// SetHistory installs a new branch-history bitstring. It errors if
// taken or notTaken is already pending (spec.md §4.4: "error if more
// than one of {history, taken, notTaken} would be set simultaneously").
func (c *Counter) SetHistory(bits uint64) error {
	if c.anyOf(c.haveTaken, c.haveNotTaken) {
		return dqrerr.New(dqrerr.InternalError, "counter: history conflicts with pending taken/not-taken run")
	}
	c.history = bits
	c.histBit = stopBit(bits) - 1
	c.haveHistory = true
	return nil
}

// SetTaken installs a pending taken-branch run length.
func (c *Counter) SetTaken(n uint64) error {
	if c.anyOf(c.haveHistory, c.haveNotTaken) {
		return dqrerr.New(dqrerr.InternalError, "counter: taken conflicts with pending history/not-taken run")
	}
	c.taken = n
	c.haveTaken = true
	return nil
}

// SetNotTaken installs a pending not-taken-branch run length.
func (c *Counter) SetNotTaken(n uint64) error {
	if c.anyOf(c.haveHistory, c.haveTaken) {
		return dqrerr.New(dqrerr.InternalError, "counter: not-taken conflicts with pending history/taken run")
	}
	c.notTaken = n
	c.haveNotTaken = true
	return nil
}

// CurrentKind returns the highest-priority non-empty consumable:
// history > taken > notTaken > i_cnt.
func (c *Counter) CurrentKind() Kind {
	switch {
	case c.haveHistory && c.histBit >= 0:
		return KindHistory
	case c.haveTaken && c.taken > 0:
		return KindTaken
	case c.haveNotTaken && c.notTaken > 0:
		return KindNotTaken
	case c.iCnt > 0:
		return KindICnt
	default:
		return KindNone
	}
}

// ConsumeICnt decrements the instruction count by n.
func (c *Counter) ConsumeICnt(n uint64) {
	if n > c.iCnt {
		c.iCnt = 0
		return
	}
	c.iCnt -= n
}

// ConsumeHistory returns the bit at the current history position and
// advances it. exhausted is true once no further outcome bits remain
// (the stop sentinel itself is never yielded).
func (c *Counter) ConsumeHistory() (taken bool, exhausted bool) {
	if !c.haveHistory || c.histBit < 0 {
		return false, true
	}
	taken = c.history&(1<<uint(c.histBit)) != 0
	c.histBit--
	if c.histBit < 0 {
		c.haveHistory = false
		return taken, true
	}
	return taken, false
}

// ConsumeTaken decrements the pending taken-branch run length.
func (c *Counter) ConsumeTaken() {
	if c.taken > 0 {
		c.taken--
	}
	if c.taken == 0 {
		c.haveTaken = false
	}
}

// ConsumeNotTaken decrements the pending not-taken-branch run length.
func (c *Counter) ConsumeNotTaken() {
	if c.notTaken > 0 {
		c.notTaken--
	}
	if c.notTaken == 0 {
		c.haveNotTaken = false
	}
}

// Exhausted reports whether every consumable is empty.
func (c *Counter) Exhausted() bool {
	return c.CurrentKind() == KindNone
}

// Reset clears all pending consumables (used on resync/SYNCING entry).
func (c *Counter) Reset() {
	*c = Counter{}
}
