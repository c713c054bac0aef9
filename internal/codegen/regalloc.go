package codegen

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// ErrAllocationExhausted is returned in strict mode when every register of a
// class is in use.
var ErrAllocationExhausted = errors.New("register pool exhausted")

// ---------------------------------------------------------------------------
// RegAllocator: free/used bookkeeping for the integer and floating files
//
// Allocation scans the pool in declaration order and hands out the first
// register that is not in use. When the pool is exhausted the legacy policy
// returns the first pool entry again without marking anything; strict mode
// reports ErrAllocationExhausted instead.
// ---------------------------------------------------------------------------

// RegAllocator tracks the two register pools of a Target.
type RegAllocator struct {
	pools  [2][]string
	used   [2][]string
	strict bool
}

// NewRegAllocator returns an allocator over the target's pools.
func NewRegAllocator(target *Target, strict bool) *RegAllocator {
	return &RegAllocator{
		pools: [2][]string{
			ClassInt:   target.IntRegs,
			ClassFloat: target.FloatRegs,
		},
		strict: strict,
	}
}

// Alloc returns a register of the given class. fresh is false when the
// exhaustion fallback handed out an entry that may already be live.
func (ra *RegAllocator) Alloc(class RegClass) (reg string, fresh bool, err error) {
	for _, r := range ra.pools[class] {
		if !lo.Contains(ra.used[class], r) {
			ra.used[class] = append(ra.used[class], r)
			return r, true, nil
		}
	}
	if ra.strict {
		return "", false, fmt.Errorf("%w: all %d %s registers in use",
			ErrAllocationExhausted, len(ra.pools[class]), class)
	}
	return ra.pools[class][0], false, nil
}

// Free returns reg to the pool. Freeing a register that is not in use is a
// no-op.
func (ra *RegAllocator) Free(class RegClass, reg string) bool {
	if !lo.Contains(ra.used[class], reg) {
		return false
	}
	ra.used[class] = lo.Without(ra.used[class], reg)
	return true
}

// Reset marks every register of both classes as free.
func (ra *RegAllocator) Reset() {
	ra.used[ClassInt] = nil
	ra.used[ClassFloat] = nil
}

// InUse returns the registers of class currently allocated, in allocation
// order.
func (ra *RegAllocator) InUse(class RegClass) []string {
	return append([]string(nil), ra.used[class]...)
}

// IsUsed reports whether reg is allocated in class.
func (ra *RegAllocator) IsUsed(class RegClass, reg string) bool {
	return lo.Contains(ra.used[class], reg)
}

// PoolSize returns the number of registers in the class pool.
func (ra *RegAllocator) PoolSize(class RegClass) int {
	return len(ra.pools[class])
}
