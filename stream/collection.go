package stream

import (
	"fmt"
	"slices"
	"strings"

	"github.com/notargets/DGFlow/container"
)

// Policy selects what a Collection does when every storage is full
type Policy uint8

const (
	// Greedy fills the storages in order and rejects frames once all are full
	Greedy Policy = iota
	// LRU evicts the oldest inserted frame to make room
	LRU
)

func (p Policy) String() string {
	if p == LRU {
		return "lru"
	}
	return "greedy"
}

// ParsePolicy accepts "greedy" and "lru"; an empty name selects greedy
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "greedy":
		return Greedy, nil
	case "lru":
		return LRU, nil
	}
	return 0, fmt.Errorf("unknown storage policy %q", name)
}

// Collection spreads frames over several storages, e.g. a small memory
// storage backed by a file storage
type Collection struct {
	policy   Policy
	storages []Storage
	order    []uint64 // Insertion order, oldest first
}

// NewCollection tries storages in the given order
func NewCollection(policy Policy, storages ...Storage) *Collection {
	return &Collection{policy: policy, storages: storages}
}

// Insert stores c under id in the first storage with room
func (col *Collection) Insert(id uint64, c *container.Container) error {
	if col.Has(id) {
		return fmt.Errorf("%w: %d", ErrDuplicateFrame, id)
	}
	for _, s := range col.storages {
		if !s.Full() {
			return col.insert(s, id, c)
		}
	}
	if col.policy != LRU || len(col.order) == 0 {
		return fmt.Errorf("%w: %d storages", ErrFull, len(col.storages))
	}

	oldest := col.order[0]
	for _, s := range col.storages {
		if s.Has(oldest) {
			col.Erase(oldest)
			return col.insert(s, id, c)
		}
	}
	return fmt.Errorf("%w: evicted frame %d", ErrFrameNotFound, oldest)
}

func (col *Collection) insert(s Storage, id uint64, c *container.Container) error {
	if err := s.Insert(id, c); err != nil {
		return err
	}
	col.order = append(col.order, id)
	return nil
}

func (col *Collection) Get(id uint64) (*container.Container, error) {
	for _, s := range col.storages {
		if s.Has(id) {
			return s.Get(id)
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrFrameNotFound, id)
}

func (col *Collection) Has(id uint64) bool {
	for _, s := range col.storages {
		if s.Has(id) {
			return true
		}
	}
	return false
}

func (col *Collection) Erase(id uint64) {
	for _, s := range col.storages {
		s.Erase(id)
	}
	col.order = slices.DeleteFunc(col.order, func(v uint64) bool { return v == id })
}

func (col *Collection) Apply(cmd Command, frame uint64) {
	for _, s := range col.storages {
		s.Apply(cmd, frame)
	}
	col.order = slices.DeleteFunc(col.order, func(v uint64) bool { return cmd.dropped(v, frame) })
}

// Full reports whether an insertion would fail
func (col *Collection) Full() bool {
	if col.policy == LRU && len(col.order) > 0 {
		return false
	}
	for _, s := range col.storages {
		if !s.Full() {
			return false
		}
	}
	return true
}

func (col *Collection) Len() int { return len(col.order) }

func (col *Collection) IDs() []uint64 {
	ids := slices.Clone(col.order)
	slices.Sort(ids)
	return ids
}
