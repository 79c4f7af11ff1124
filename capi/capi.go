// Package capi exposes the coupling core through integer handles, the shape
// expected by foreign language bindings.
//
// Every object crossing the boundary (container, field, redistribution
// component) lives in a Registry and is referred to by a Handle. Creation
// functions return the zero Handle on failure and boolean functions return
// false; the cause is logged and kept for LastError.
package capi

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/notargets/DGFlow/container"
	"github.com/notargets/DGFlow/errs"
	"github.com/notargets/DGFlow/field"
	"github.com/notargets/DGFlow/redist"
)

// Handle refers to an object of a Registry. The zero Handle is never valid.
type Handle uint64

// Type selects the element type of scalar and array fields, or the block
// variant. Values follow the boundary enumeration.
type Type int32

const (
	TypeInt Type = iota
	TypeUnsigned
	TypeFloat
	TypeDouble
	TypeChar
	TypeBlock
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeUnsigned:
		return "unsigned"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeChar:
		return "char"
	case TypeBlock:
		return "block"
	default:
		return fmt.Sprintf("Type(%d)", int32(t))
	}
}

// Kind returns the element kind of t, field.KindNone for TypeBlock
func (t Type) Kind() field.Kind {
	switch t {
	case TypeInt:
		return field.Int32
	case TypeUnsigned:
		return field.Uint32
	case TypeFloat:
		return field.Float32
	case TypeDouble:
		return field.Float64
	case TypeChar:
		return field.Char
	default:
		return field.KindNone
	}
}

// Registry owns the objects behind handles. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	next    Handle
	objects map[Handle]any
	lastErr error
	logger  *slog.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger receiving boundary failures
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{objects: make(map[Handle]any), logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRegistry = NewRegistry()

// Default returns the process wide registry
func Default() *Registry { return defaultRegistry }

// Len returns the number of live handles
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

// LastError returns the cause of the latest failure, nil if none happened
func (r *Registry) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Registry) put(v any) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.objects[r.next] = v
	return r.next
}

func (r *Registry) drop(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, h)
}

// fail records err for LastError and logs it
func (r *Registry) fail(op string, err error) {
	err = errs.Wrap(err, "capi", op, "call")
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
	r.logger.Warn("boundary call failed", "op", op, "error", err)
}

func lookup[T any](r *Registry, h Handle, what string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	v, ok := r.objects[h]
	if !ok {
		return zero, fmt.Errorf("%w: unknown %s handle %d", errs.ErrInvalidArgument, what, h)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: handle %d is not a %s", errs.ErrInvalidArgument, h, what)
	}
	return t, nil
}

func (r *Registry) container(h Handle) (*container.Container, error) {
	return lookup[*container.Container](r, h, "container")
}

func (r *Registry) field(h Handle) (field.Value, error) {
	return lookup[field.Value](r, h, "field")
}

func (r *Registry) redist(h Handle) (*redist.Component, error) {
	return lookup[*redist.Component](r, h, "redistribution")
}

// CreateContainer returns a handle to a new empty container
func (r *Registry) CreateContainer() Handle {
	return r.put(container.New(container.WithLogger(r.logger)))
}

// FreeContainer releases a container handle. Fields appended to it stay
// valid through their own handles.
func (r *Registry) FreeContainer(h Handle) {
	if _, err := r.container(h); err != nil {
		r.fail("FreeContainer", err)
		return
	}
	r.drop(h)
}

// ContainerItemCount returns the item count of a container, -1 on failure
func (r *Registry) ContainerItemCount(h Handle) int {
	c, err := r.container(h)
	if err != nil {
		r.fail("ContainerItemCount", err)
		return -1
	}
	return c.ItemCount()
}

// AppendField adds the field behind f to the container behind c
func (r *Registry) AppendField(c Handle, name string, f Handle, flags field.Flags, scope field.Scope,
	split field.SplitPolicy, merge field.MergePolicy) bool {
	cont, err := r.container(c)
	if err != nil {
		r.fail("AppendField", err)
		return false
	}
	v, err := r.field(f)
	if err != nil {
		r.fail("AppendField", err)
		return false
	}
	if err := cont.Append(name, v, flags, scope, split, merge); err != nil {
		r.fail("AppendField", err)
		return false
	}
	return true
}

// MergeContainers merges the container behind other into the one behind c
func (r *Registry) MergeContainers(c, other Handle) bool {
	dst, err := r.container(c)
	if err != nil {
		r.fail("MergeContainers", err)
		return false
	}
	src, err := r.container(other)
	if err != nil {
		r.fail("MergeContainers", err)
		return false
	}
	if err := dst.Merge(src); err != nil {
		r.fail("MergeContainers", err)
		return false
	}
	return true
}

// SplitByRange splits a container into len(counts) new containers holding
// counts[i] items each. It returns nil on failure.
func (r *Registry) SplitByRange(c Handle, counts []int) []Handle {
	cont, err := r.container(c)
	if err != nil {
		r.fail("SplitByRange", err)
		return nil
	}
	children, err := cont.Split(counts)
	if err != nil {
		r.fail("SplitByRange", err)
		return nil
	}
	out := make([]Handle, len(children))
	for i, child := range children {
		out[i] = r.put(child)
	}
	return out
}

// SplitByRangeInto is SplitByRange writing into the containers behind into,
// one per count. Their storage is reused across calls.
func (r *Registry) SplitByRangeInto(c Handle, counts []int, into []Handle) bool {
	cont, err := r.container(c)
	if err != nil {
		r.fail("SplitByRangeInto", err)
		return false
	}
	if len(into) != len(counts) {
		r.fail("SplitByRangeInto", fmt.Errorf("%w: %d counts for %d containers",
			errs.ErrInvalidArgument, len(counts), len(into)))
		return false
	}
	buffers := make([]*container.Container, len(into))
	for i, h := range into {
		if buffers[i], err = r.container(h); err != nil {
			r.fail("SplitByRangeInto", err)
			return false
		}
	}
	if _, err := cont.SplitInto(counts, buffers); err != nil {
		r.fail("SplitByRangeInto", err)
		return false
	}
	return true
}
