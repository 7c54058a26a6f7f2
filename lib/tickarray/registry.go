package tickarray

import (
	"fmt"
	"sort"

	"github.com/btb-finance/clmm-core/lib/clmmerr"
	cons "github.com/btb-finance/clmm-core/lib/constants"
	"github.com/btb-finance/clmm-core/lib/tickmath"
)

// Registry is the set of tick arrays of one pool, addressed by start index.
// Arrays sit on a fixed grid of Size*spacing ticks so every tick belongs to
// exactly one array.
type Registry struct {
	tickSpacing uint16
	arrays      map[int32]*TickArray
	starts      []int32
}

func NewRegistry(tickSpacing uint16) *Registry {
	return &Registry{
		tickSpacing: tickSpacing,
		arrays:      make(map[int32]*TickArray),
	}
}

func (r *Registry) TickSpacing() uint16 {
	return r.tickSpacing
}

func (r *Registry) Len() int {
	return len(r.starts)
}

// StartIndexFor returns the start of the array that holds tickIndex.
func (r *Registry) StartIndexFor(tickIndex int32) int32 {
	return tickmath.Floor(tickIndex, Size*int32(r.tickSpacing))
}

// Initialize allocates the array at startTickIndex. Initializing an
// existing array is a no-op.
func (r *Registry) Initialize(startTickIndex int32) (*TickArray, error) {
	if want := r.StartIndexFor(startTickIndex); want != startTickIndex {
		return nil, fmt.Errorf("%w: start %d is not on the array grid (want %d)", clmmerr.ErrInvalidTickIndex, startTickIndex, want)
	}
	if a, ok := r.arrays[startTickIndex]; ok {
		return a, nil
	}
	a, err := InitializeTickArray(startTickIndex, r.tickSpacing)
	if err != nil {
		return nil, err
	}
	r.insert(a)
	return a, nil
}

// Restore puts back a previously persisted array.
func (r *Registry) Restore(a *TickArray) error {
	if a.TickSpacing != r.tickSpacing {
		return fmt.Errorf("%w: array spacing %d, pool spacing %d", clmmerr.ErrInvalidTickSpacing, a.TickSpacing, r.tickSpacing)
	}
	if want := r.StartIndexFor(a.StartTickIndex); want != a.StartTickIndex {
		return fmt.Errorf("%w: start %d is not on the array grid", clmmerr.ErrInvalidTickIndex, a.StartTickIndex)
	}
	if _, ok := r.arrays[a.StartTickIndex]; ok {
		r.arrays[a.StartTickIndex] = a
		return nil
	}
	r.insert(a)
	return nil
}

func (r *Registry) insert(a *TickArray) {
	r.arrays[a.StartTickIndex] = a
	i := sort.Search(len(r.starts), func(i int) bool { return r.starts[i] > a.StartTickIndex })
	r.starts = append(r.starts, 0)
	copy(r.starts[i+1:], r.starts[i:])
	r.starts[i] = a.StartTickIndex
}

func (r *Registry) Get(tickIndex int32) (*TickArray, error) {
	start := r.StartIndexFor(tickIndex)
	a, ok := r.arrays[start]
	if !ok {
		return nil, fmt.Errorf("%w: array %d for tick %d", clmmerr.ErrTickArrayNotInitialized, start, tickIndex)
	}
	return a, nil
}

func (r *Registry) GetOrInit(tickIndex int32) (*TickArray, error) {
	return r.Initialize(r.StartIndexFor(tickIndex))
}

func (r *Registry) Tick(tickIndex int32) (*Tick, error) {
	a, err := r.Get(tickIndex)
	if err != nil {
		return nil, err
	}
	return a.Tick(tickIndex)
}

// Arrays returns the initialized arrays in price order.
func (r *Registry) Arrays() []*TickArray {
	out := make([]*TickArray, 0, len(r.starts))
	for _, s := range r.starts {
		out = append(out, r.arrays[s])
	}
	return out
}

func (r *Registry) Clone() *Registry {
	c := &Registry{
		tickSpacing: r.tickSpacing,
		arrays:      make(map[int32]*TickArray, len(r.arrays)),
		starts:      make([]int32, len(r.starts)),
	}
	copy(c.starts, r.starts)
	for k, v := range r.arrays {
		a := *v
		c.arrays[k] = &a
	}
	return c
}

// NextInitializedTick returns the nearest referenced tick at or below tick
// (lte) or strictly above it. When there is none it returns the price
// boundary in that direction and false.
func (r *Registry) NextInitializedTick(tick int32, lte bool) (int32, bool) {
	// index of the last array starting at or below tick
	i := sort.Search(len(r.starts), func(i int) bool { return r.starts[i] > tick }) - 1
	if lte {
		for ; i >= 0; i-- {
			a := r.arrays[r.starts[i]]
			for k := Size - 1; k >= 0; k-- {
				t := &a.Ticks[k]
				if t.Index <= tick && t.IsInitialized() {
					return t.Index, true
				}
			}
		}
		return cons.MinTick, false
	}
	if i < 0 {
		i = 0
	}
	for ; i < len(r.starts); i++ {
		a := r.arrays[r.starts[i]]
		for k := 0; k < Size; k++ {
			t := &a.Ticks[k]
			if t.Index > tick && t.IsInitialized() {
				return t.Index, true
			}
		}
	}
	return cons.MaxTick, false
}
