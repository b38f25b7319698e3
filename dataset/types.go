// Package dataset loads and generates raw fixed-width integer datasets used as
// benchmark input. Files are headerless native-endian arrays of one of the
// supported signed integer widths.
package dataset

import (
	"fmt"
	"unsafe"
)

// Type selects the element width of a dataset.
type Type string

// Supported element types, named after the C types they were defined with.
const (
	Int8  Type = "int8"
	Short Type = "short"
	Int   Type = "int"
	Long  Type = "long"
)

// Element is the set of Go types a dataset can be reinterpreted into.
type Element interface {
	~int8 | ~int16 | ~int32 | ~int64
}

// KnownTypes returns the accepted type names in ascending width order.
func KnownTypes() []Type {
	return []Type{Int8, Short, Int, Long}
}

// ParseType maps a type name to a Type.
func ParseType(s string) (Type, error) {
	for _, t := range KnownTypes() {
		if string(t) == s {
			return t, nil
		}
	}

	return "", fmt.Errorf("unknown element type %q (want int8, short, int or long)", s)
}

// Width returns the element size in bytes, or 0 for an unknown type.
func (t Type) Width() int {
	switch t {
	case Int8:
		return 1
	case Short:
		return 2
	case Int:
		return 4
	case Long:
		return 8
	default:
		return 0
	}
}

// Width returns the size in bytes of T.
func Width[T Element]() int {
	var zero T

	return int(unsafe.Sizeof(zero))
}

// AsBytes reinterprets s as its raw in-memory bytes without copying.
func AsBytes[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*Width[T]())
}
