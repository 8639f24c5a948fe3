package boundary

import (
	"fmt"
	"sync"
)

// Handle is an opaque session reference: slot index in the low 32 bits,
// slot generation in the high 32 bits. The zero Handle is never issued.
type Handle uint64

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

func (h Handle) index() uint32 { return uint32(h) }
func (h Handle) gen() uint32   { return uint32(h >> 32) }

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index(), h.gen())
}

type slot[T any] struct {
	gen   uint32
	live  bool
	value T
}

// Registry is a generation-checked arena. Removing a value bumps its slot's
// generation, so handles issued before the removal stop resolving even after
// the slot is reused.
type Registry[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	live  int
}

func (r *Registry[T]) Insert(v T) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot[T]{})
	}
	s := &r.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.live = true
	s.value = v
	r.live++
	return makeHandle(idx, s.gen)
}

func (r *Registry[T]) Get(h Handle) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slotLocked(h)
	if !ok {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Remove invalidates h and returns the value it referred to.
func (r *Registry[T]) Remove(h Handle) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	s, ok := r.slotLocked(h)
	if !ok {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.live = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	r.free = append(r.free, h.index())
	r.live--
	return v, true
}

// Len is the number of live handles.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Handles lists every live handle.
func (r *Registry[T]) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handle, 0, r.live)
	for i := range r.slots {
		if r.slots[i].live {
			out = append(out, makeHandle(uint32(i), r.slots[i].gen))
		}
	}
	return out
}

func (r *Registry[T]) slotLocked(h Handle) (*slot[T], bool) {
	idx := h.index()
	if h == 0 || int(idx) >= len(r.slots) {
		return nil, false
	}
	s := &r.slots[idx]
	if !s.live || s.gen != h.gen() {
		return nil, false
	}
	return s, true
}
