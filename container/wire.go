package container

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/notargets/DGFlow/field"
)

type wireField struct {
	Name  string            `msgpack:"n"`
	Flags field.Flags       `msgpack:"f"`
	Scope field.Scope       `msgpack:"s"`
	Split field.SplitPolicy `msgpack:"sp"`
	Merge field.MergePolicy `msgpack:"mp"`
	Value field.Record      `msgpack:"v"`
}

type wireContainer struct {
	Fields []wireField `msgpack:"fields"`
}

// Serialize encodes every field with its name, flags, scope and policies,
// in natural order.
func (c *Container) Serialize() ([]byte, error) {
	w := wireContainer{Fields: make([]wireField, 0, len(c.fields))}
	for _, name := range c.Names() {
		e := c.fields[name]
		rec, err := field.Encode(e.value)
		if err != nil {
			return nil, fmt.Errorf("serialize field %q: %w", name, err)
		}
		w.Fields = append(w.Fields, wireField{
			Name:  name,
			Flags: e.meta.Flags,
			Scope: e.meta.Scope,
			Split: e.meta.Split,
			Merge: e.meta.Merge,
			Value: rec,
		})
	}
	return msgpack.Marshal(&w)
}

// Deserialize rebuilds a container from Serialize output
func Deserialize(data []byte, opts ...Option) (*Container, error) {
	var w wireContainer
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("deserialize container: %w", err)
	}
	c := New(opts...)
	for _, wf := range w.Fields {
		v, err := field.Decode(wf.Value)
		if err != nil {
			return nil, fmt.Errorf("deserialize field %q: %w", wf.Name, err)
		}
		if err := c.Append(wf.Name, v, wf.Flags, wf.Scope, wf.Split, wf.Merge); err != nil {
			return nil, fmt.Errorf("deserialize: %w", err)
		}
	}
	return c, nil
}

// MergeBuffer deserializes data and merges it into c
func (c *Container) MergeBuffer(data []byte) error {
	other, err := Deserialize(data, WithLogger(c.logger))
	if err != nil {
		return err
	}
	return c.merge(other, false)
}

// UnserializeAndStore deserializes a fragment for a later MergeStoredData. The
// first fragment with data becomes the content of c; later ones are checked
// for compatibility and kept aside.
func (c *Container) UnserializeAndStore(data []byte) error {
	other, err := Deserialize(data, WithLogger(c.logger))
	if err != nil {
		return err
	}
	switch {
	case !c.HasData():
		c.adopt(other, false)
		return nil
	case !other.HasData():
		c.CopySystemFields(other)
		return nil
	}
	if err := c.checkMergeable(other.fields); err != nil {
		return err
	}
	c.stored = append(c.stored, other.fields)
	return nil
}

// StoredCount is the number of fragments waiting for MergeStoredData
func (c *Container) StoredCount() int { return len(c.stored) }

// MergeStoredData merges every stored fragment field by field, one MergeAll
// per field using the merge policy of c.
func (c *Container) MergeStoredData() error {
	if len(c.stored) == 0 {
		return nil
	}
	defer func() { c.stored = nil }()
	for _, name := range c.mergeSequence() {
		mine := c.fields[name]
		parts := make([]field.Value, 0, len(c.stored))
		for _, frag := range c.stored {
			e, ok := frag[name]
			if !ok && mine.meta.Scope == field.System {
				continue
			}
			if !ok {
				return fmt.Errorf("merge stored data: %w: field %q missing", ErrIncompatible, name)
			}
			parts = append(parts, e.value)
		}
		if err := mine.value.MergeAll(parts, mine.meta.Merge); err != nil {
			return fmt.Errorf("merge stored field %q: %w", name, err)
		}
	}
	return c.recount()
}
