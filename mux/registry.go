package mux

import (
	"fmt"
	"sort"
	"sync"

	"github.com/progrium/rtcmux/transport"
)

// Registry maps stream ids to channels, kept sorted by id. It also tracks
// reserved ids: ids held by a registered channel or by a closed channel
// whose reset has not completed. Reserved ids are never allocated.
//
// Registry is the only structure shared between the caller and the
// transport loop; every method is atomic.
type Registry struct {
	mu       sync.Mutex
	channels []*Channel
	reserved map[uint16]struct{}

	// free[p] is at or below the lowest unreserved id of parity p.
	free [2]uint32
}

func NewRegistry() *Registry {
	return &Registry{
		reserved: make(map[uint16]struct{}),
		free:     [2]uint32{0, 1},
	}
}

func (r *Registry) search(id uint16) int {
	return sort.Search(len(r.channels), func(i int) bool {
		return uint16(r.channels[i].stream.Load()) >= id
	})
}

func (r *Registry) lookup(id uint16) (int, bool) {
	i := r.search(id)
	return i, i < len(r.channels) && uint16(r.channels[i].stream.Load()) == id
}

func (r *Registry) insert(ch *Channel, i int, id uint16) {
	r.channels = append(r.channels, nil)
	copy(r.channels[i+1:], r.channels[i:])
	r.channels[i] = ch
	r.reserved[id] = struct{}{}
}

// Insert registers ch under its assigned stream id. A second channel on
// the same id is a programming error and panics.
func (r *Registry) Insert(ch *Channel) {
	id, ok := ch.Stream()
	if !ok {
		panic("mux: insert of channel without stream id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i, found := r.lookup(id)
	if found {
		panic(fmt.Sprintf("mux: duplicate channel for stream %d", id))
	}
	r.insert(ch, i, id)
}

// InsertNegotiated registers a channel whose id was chosen out-of-band,
// failing with ErrStreamInUse if the id is reserved.
func (r *Registry) InsertNegotiated(ch *Channel) error {
	id, ok := ch.Stream()
	if !ok {
		return ErrInvalidStream
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.reserved[id]; taken {
		return ErrStreamInUse
	}
	i, _ := r.lookup(id)
	r.insert(ch, i, id)
	return nil
}

// Allocate reserves the lowest free id with the parity of first.
func (r *Registry) Allocate(first uint16) (uint16, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocate(first)
}

// Assign allocates an id with the parity of first and registers ch under
// it in one step.
func (r *Registry) Assign(ch *Channel, first uint16) (uint16, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.allocate(first)
	if !ok {
		return 0, false
	}
	ch.stream.Store(uint32(id))
	i, _ := r.lookup(id)
	r.insert(ch, i, id)
	return id, true
}

func (r *Registry) allocate(first uint16) (uint16, bool) {
	p := first & 1
	hinted := uint32(first) <= r.free[p]
	id := uint32(first)
	if hinted {
		id = r.free[p]
	}
	for ; id < uint32(transport.MaxStreams); id += 2 {
		if _, taken := r.reserved[uint16(id)]; !taken {
			r.reserved[uint16(id)] = struct{}{}
			if hinted {
				r.free[p] = id + 2
			}
			return uint16(id), true
		}
	}
	if hinted {
		r.free[p] = id
	}
	return 0, false
}

func (r *Registry) Get(id uint16) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.lookup(id); ok {
		return r.channels[i]
	}
	return nil
}

// Next returns the channel with the lowest id above after, wrapping to the
// lowest id overall.
func (r *Registry) Next(after uint16) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.channels) == 0 {
		return nil
	}
	i := r.search(after)
	if i < len(r.channels) && uint16(r.channels[i].stream.Load()) == after {
		i++
	}
	if i >= len(r.channels) {
		i = 0
	}
	return r.channels[i]
}

// All returns a snapshot in id order.
func (r *Registry) All() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Channel(nil), r.channels...)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Remove unregisters ch. Its id stays reserved until Release.
func (r *Registry) Remove(ch *Channel) bool {
	id, ok := ch.Stream()
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i, found := r.lookup(id)
	if !found || r.channels[i] != ch {
		return false
	}
	r.channels = append(r.channels[:i], r.channels[i+1:]...)
	return true
}

// Reserved reports whether id is registered or awaiting reset.
func (r *Registry) Reserved(id uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.reserved[id]
	return ok
}

// Release frees ids for allocation. Ids of registered channels are kept.
func (r *Registry) Release(ids ...uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if _, found := r.lookup(id); found {
			continue
		}
		if _, ok := r.reserved[id]; !ok {
			continue
		}
		delete(r.reserved, id)
		if p := id & 1; uint32(id) < r.free[p] {
			r.free[p] = uint32(id)
		}
	}
}
