package container

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/notargets/DGFlow/field"
)

var (
	ErrItemCountMismatch = errors.New("incoherent item count")
	ErrDuplicateField    = errors.New("field already present")
	ErrFieldNotFound     = errors.New("field not found")
	ErrNotPermutation    = errors.New("order is not a permutation of the fields")
	ErrKeyType           = errors.New("wrong type for a z-curve key field")
	ErrIncompatible      = errors.New("containers cannot be merged")
	ErrNoZCurveKey       = errors.New("no Pos or Morton field to place items in blocks")
)

// Meta is the bookkeeping carried with every field value
type Meta struct {
	Flags field.Flags
	Scope field.Scope
	Split field.SplitPolicy
	Merge field.MergePolicy
}

type entry struct {
	value field.Value
	meta  Meta
}

// participates reports whether the entry takes part in item-count coherence.
// Shared fields take part too: they may hold 1 or N items, nothing else.
func (e *entry) participates() bool {
	return e.value.Countable() && e.meta.Scope != field.System
}

// Container maps field names to typed values. Iteration follows the sorted
// field names unless a split or merge order is set.
type Container struct {
	fields     map[string]*entry
	itemCount  int
	splitOrder []string
	mergeOrder []string

	orderInvalidated bool
	stored           []map[string]*entry
	logger           *slog.Logger
}

// Option configures a Container
type Option func(*Container)

// WithLogger sets the logger used for container warnings
func WithLogger(l *slog.Logger) Option {
	return func(c *Container) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns an empty container
func New(opts ...Option) *Container {
	c := &Container{
		fields: make(map[string]*entry),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// coherentCount computes the item count of a field set. Participating fields
// may report 1 or one shared N; a second distinct N is an error.
func coherentCount(fields map[string]*entry) (int, error) {
	n, seen := -1, false
	for name, e := range fields {
		if !e.participates() {
			continue
		}
		seen = true
		c := e.value.ItemCount()
		if c == 1 {
			continue
		}
		if n >= 0 && c != n {
			return 0, fmt.Errorf("%w: field %q has %d items, container has %d",
				ErrItemCountMismatch, name, c, n)
		}
		n = c
	}
	switch {
	case n >= 0:
		return n, nil
	case seen:
		return 1, nil
	}
	return 0, nil
}

func checkKey(name string, v field.Value, flags field.Flags) error {
	if flags&field.Pos != 0 {
		if a, ok := v.(*field.Array[float32]); !ok || a.ElementsPerItem() != 3 {
			return fmt.Errorf("%w: Pos field %q must be Array_float32 with 3 elements per item, got %s",
				ErrKeyType, name, v.Typename())
		}
	}
	if flags&field.Morton != 0 {
		if a, ok := v.(*field.Array[uint32]); !ok || a.ElementsPerItem() != 1 {
			return fmt.Errorf("%w: Morton field %q must be Array_uint32 with 1 element per item, got %s",
				ErrKeyType, name, v.Typename())
		}
	}
	return nil
}

// Append inserts a new field. The container is unchanged when the field
// breaks item-count coherence.
func (c *Container) Append(name string, v field.Value, flags field.Flags, scope field.Scope,
	split field.SplitPolicy, merge field.MergePolicy) error {
	if v == nil {
		return fmt.Errorf("append %q: nil value", name)
	}
	if _, ok := c.fields[name]; ok {
		return fmt.Errorf("append %q: %w", name, ErrDuplicateField)
	}
	if err := checkKey(name, v, flags); err != nil {
		return err
	}
	e := &entry{value: v, meta: Meta{Flags: flags, Scope: scope, Split: split, Merge: merge}}
	c.fields[name] = e
	n, err := coherentCount(c.fields)
	if err != nil {
		delete(c.fields, name)
		return fmt.Errorf("append %q: %w", name, err)
	}
	c.itemCount = n
	c.invalidateOrders("append", name)
	return nil
}

// Remove deletes a field, reporting whether it was present
func (c *Container) Remove(name string) bool {
	if _, ok := c.fields[name]; !ok {
		return false
	}
	delete(c.fields, name)
	c.itemCount, _ = coherentCount(c.fields)
	c.invalidateOrders("remove", name)
	return true
}

// Update replaces the value of an existing field, keeping its meta
func (c *Container) Update(name string, v field.Value) error {
	e, ok := c.fields[name]
	if !ok {
		return fmt.Errorf("update %q: %w", name, ErrFieldNotFound)
	}
	if v == nil {
		return fmt.Errorf("update %q: nil value", name)
	}
	if err := checkKey(name, v, e.meta.Flags); err != nil {
		return err
	}
	old := e.value
	e.value = v
	n, err := coherentCount(c.fields)
	if err != nil {
		e.value = old
		return fmt.Errorf("update %q: %w", name, err)
	}
	c.itemCount = n
	return nil
}

func (c *Container) invalidateOrders(op, name string) {
	if len(c.splitOrder) == 0 && len(c.mergeOrder) == 0 {
		return
	}
	c.logger.Warn("field set changed, clearing split and merge orders",
		slog.String("op", op), slog.String("field", name))
	c.splitOrder, c.mergeOrder = nil, nil
	c.orderInvalidated = true
}

// OrderInvalidated reports whether a split or merge order was dropped by a
// change of the field set since the orders were last set
func (c *Container) OrderInvalidated() bool { return c.orderInvalidated }

func (c *Container) checkPermutation(names []string) error {
	if len(names) != len(c.fields) {
		return fmt.Errorf("%w: %d names for %d fields", ErrNotPermutation, len(names), len(c.fields))
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := c.fields[n]; !ok || seen[n] {
			return fmt.Errorf("%w: %q", ErrNotPermutation, n)
		}
		seen[n] = true
	}
	return nil
}

// SetSplitOrder sets the order fields are split in. names must be a
// permutation of the field names.
func (c *Container) SetSplitOrder(names []string) error {
	if err := c.checkPermutation(names); err != nil {
		return err
	}
	c.splitOrder = slices.Clone(names)
	c.orderInvalidated = false
	return nil
}

// SetMergeOrder sets the order fields are merged in, see SetSplitOrder
func (c *Container) SetMergeOrder(names []string) error {
	if err := c.checkPermutation(names); err != nil {
		return err
	}
	c.mergeOrder = slices.Clone(names)
	c.orderInvalidated = false
	return nil
}

func (c *Container) SplitOrder() []string { return slices.Clone(c.splitOrder) }
func (c *Container) MergeOrder() []string { return slices.Clone(c.mergeOrder) }

func (c *Container) splitSequence() []string {
	if len(c.splitOrder) > 0 {
		return c.splitOrder
	}
	return c.Names()
}

func (c *Container) mergeSequence() []string {
	if len(c.mergeOrder) > 0 {
		return c.mergeOrder
	}
	return c.Names()
}

// Names returns the field names in natural (sorted) order
func (c *Container) Names() []string {
	names := make([]string, 0, len(c.fields))
	for n := range c.fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// UserNames returns the names of the non-system fields
func (c *Container) UserNames() []string {
	names := make([]string, 0, len(c.fields))
	for _, n := range c.Names() {
		if c.fields[n].meta.Scope != field.System {
			names = append(names, n)
		}
	}
	return names
}

func (c *Container) Has(name string) bool {
	_, ok := c.fields[name]
	return ok
}

// Field returns the value stored under name
func (c *Container) Field(name string) (field.Value, bool) {
	e, ok := c.fields[name]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Meta returns the flags, scope and policies of a field
func (c *Container) Meta(name string) (Meta, bool) {
	e, ok := c.fields[name]
	if !ok {
		return Meta{}, false
	}
	return e.meta, true
}

// Typename returns the type name of a field, empty when absent
func (c *Container) Typename(name string) string {
	if e, ok := c.fields[name]; ok {
		return e.value.Typename()
	}
	return ""
}

// ItemCount returns the coherent item count, 0 for an empty container
func (c *Container) ItemCount() int { return c.itemCount }

// FieldCount returns the number of fields, system fields included
func (c *Container) FieldCount() int { return len(c.fields) }

// Countable reports whether every non-system field is countable
func (c *Container) Countable() bool {
	for _, e := range c.fields {
		if e.meta.Scope != field.System && !e.value.Countable() {
			return false
		}
	}
	return true
}

// HasData reports whether the container holds at least one non-system field
func (c *Container) HasData() bool {
	for _, e := range c.fields {
		if e.meta.Scope != field.System {
			return true
		}
	}
	return false
}

// HasSystem reports whether the container holds at least one system field
func (c *Container) HasSystem() bool {
	for _, e := range c.fields {
		if e.meta.Scope == field.System {
			return true
		}
	}
	return false
}

// IsSystemOnly reports whether every field is a system field
func (c *Container) IsSystemOnly() bool { return c.HasSystem() && !c.HasData() }

// CopySystemFields inserts the system fields of source that c lacks
func (c *Container) CopySystemFields(source *Container) {
	if source == nil {
		return
	}
	for name, e := range source.fields {
		if e.meta.Scope != field.System {
			continue
		}
		if _, ok := c.fields[name]; ok {
			continue
		}
		c.fields[name] = &entry{value: e.value.Clone(), meta: e.meta}
	}
	c.itemCount, _ = coherentCount(c.fields)
}

// SystemOnly returns a container holding copies of the system fields of c
func (c *Container) SystemOnly() *Container {
	s := New(WithLogger(c.logger))
	s.CopySystemFields(c)
	return s
}

// SoftClean empties every field while keeping allocated storage
func (c *Container) SoftClean() {
	for _, e := range c.fields {
		e.value.SoftClean()
	}
	c.itemCount, _ = coherentCount(c.fields)
}

// Clone returns a deep copy, orders included
func (c *Container) Clone() *Container {
	d := New(WithLogger(c.logger))
	for name, e := range c.fields {
		d.fields[name] = &entry{value: e.value.Clone(), meta: e.meta}
	}
	d.itemCount = c.itemCount
	d.splitOrder = slices.Clone(c.splitOrder)
	d.mergeOrder = slices.Clone(c.mergeOrder)
	return d
}

func (c *Container) keyField(flag field.Flags) (field.Value, bool) {
	for _, n := range c.Names() {
		if c.fields[n].meta.Flags&flag != 0 {
			return c.fields[n].value, true
		}
	}
	return nil, false
}

// PositionKey returns the x,y,z positions of the Pos field
func (c *Container) PositionKey() ([]float32, bool) {
	v, ok := c.keyField(field.Pos)
	if !ok {
		return nil, false
	}
	return v.(*field.Array[float32]).Values(), true
}

// MortonKey returns the Morton indexes of the Morton field
func (c *Container) MortonKey() ([]uint32, bool) {
	v, ok := c.keyField(field.Morton)
	if !ok {
		return nil, false
	}
	return v.(*field.Array[uint32]).Values(), true
}
