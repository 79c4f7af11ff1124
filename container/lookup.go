package container

import "github.com/notargets/DGFlow/field"

// Typed lookups return false when the name is missing or holds another type.

func ScalarField[T field.Element](c *Container, name string) (*field.Scalar[T], bool) {
	v, ok := c.Field(name)
	if !ok {
		return nil, false
	}
	s, ok := v.(*field.Scalar[T])
	return s, ok
}

func ArrayField[T field.Element](c *Container, name string) (*field.Array[T], bool) {
	v, ok := c.Field(name)
	if !ok {
		return nil, false
	}
	a, ok := v.(*field.Array[T])
	return a, ok
}

func Array3DField[T field.Element](c *Container, name string) (*field.Array3D[T], bool) {
	v, ok := c.Field(name)
	if !ok {
		return nil, false
	}
	a, ok := v.(*field.Array3D[T])
	return a, ok
}

func BlockField(c *Container, name string) (*field.Block, bool) {
	v, ok := c.Field(name)
	if !ok {
		return nil, false
	}
	b, ok := v.(*field.Block)
	return b, ok
}
