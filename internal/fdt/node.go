// Package fdt builds Flattened Device Tree blobs from a node tree.
package fdt

// Kind identifies which value a Property carries.
type Kind int

const (
	KindNone Kind = iota
	KindStrings
	KindU32
	KindU64
	KindBytes
	KindFlag
)

func (k Kind) String() string {
	switch k {
	case KindStrings:
		return "strings"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindBytes:
		return "bytes"
	case KindFlag:
		return "flag"
	default:
		return "none"
	}
}

// Property is a single device tree property. Exactly one field should be
// set.
type Property struct {
	Strings []string
	U32     []uint32
	U64     []uint64
	Bytes   []byte
	Flag    bool
}

// Strings returns a string list property.
func Strings(v ...string) Property { return Property{Strings: v} }

// Cells returns a property of 32-bit cells.
func Cells(v ...uint32) Property { return Property{U32: v} }

// Reg returns an address/size pair encoded as two 64-bit values, for nodes
// with #address-cells and #size-cells of 2.
func Reg(base, size uint64) Property { return Property{U64: []uint64{base, size}} }

// Empty returns a property with no value, such as interrupt-controller.
func Empty() Property { return Property{Flag: true} }

// Kind returns the first populated field.
func (p Property) Kind() Kind {
	switch {
	case len(p.Strings) > 0:
		return KindStrings
	case len(p.U32) > 0:
		return KindU32
	case len(p.U64) > 0:
		return KindU64
	case len(p.Bytes) > 0:
		return KindBytes
	case p.Flag:
		return KindFlag
	default:
		return KindNone
	}
}

// DefinedCount reports how many fields are populated.
func (p Property) DefinedCount() int {
	n := 0
	for _, set := range []bool{len(p.Strings) > 0, len(p.U32) > 0, len(p.U64) > 0, len(p.Bytes) > 0, p.Flag} {
		if set {
			n++
		}
	}
	return n
}

// Node is a device tree node. The root node has an empty name.
type Node struct {
	Name       string
	Properties map[string]Property
	Children   []Node
}
