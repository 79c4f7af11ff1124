package container

import "fmt"

// Merge folds other into c. A container without data adopts a copy of other;
// a container with data absorbs only the system fields of a data-less other.
// Otherwise both must hold the same fields, each mergeable under the policy
// carried by other, and every check passes before any field is modified.
func (c *Container) Merge(other *Container) error {
	return c.merge(other, true)
}

func (c *Container) merge(other *Container, copyOther bool) error {
	if other == nil {
		return nil
	}
	if !c.HasData() {
		c.adopt(other, copyOther)
		return nil
	}
	if !other.HasData() {
		c.CopySystemFields(other)
		return nil
	}
	if err := c.checkMergeable(other.fields); err != nil {
		return err
	}
	for _, name := range c.mergeSequence() {
		theirs := other.fields[name]
		if err := c.fields[name].value.Merge(theirs.value, theirs.meta.Merge); err != nil {
			return fmt.Errorf("merge field %q: %w", name, err)
		}
	}
	return c.recount()
}

func (c *Container) adopt(other *Container, copyOther bool) {
	c.fields = make(map[string]*entry, len(other.fields))
	for name, e := range other.fields {
		v := e.value
		if copyOther {
			v = v.Clone()
		}
		c.fields[name] = &entry{value: v, meta: e.meta}
	}
	c.itemCount = other.itemCount
}

func (c *Container) checkMergeable(other map[string]*entry) error {
	if len(other) != len(c.fields) {
		return fmt.Errorf("%w: %d fields against %d", ErrIncompatible, len(other), len(c.fields))
	}
	for name, mine := range c.fields {
		theirs, ok := other[name]
		if !ok {
			return fmt.Errorf("%w: field %q missing", ErrIncompatible, name)
		}
		if !mine.value.CanMerge(theirs.value) {
			return fmt.Errorf("%w: field %q is %s, got %s",
				ErrIncompatible, name, mine.value.Typename(), theirs.value.Typename())
		}
		if !mine.value.SupportsMerge(theirs.meta.Merge) {
			return fmt.Errorf("%w: field %q does not support merge policy %s",
				ErrIncompatible, name, theirs.meta.Merge)
		}
	}
	return nil
}

func (c *Container) recount() error {
	n, err := coherentCount(c.fields)
	if err != nil {
		return err
	}
	c.itemCount = n
	return nil
}
