package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Header and structure block constants from the devicetree specification.
const (
	Magic      = 0xd00dfeed
	HeaderSize = 40
	// RsvmapSize is an empty memory reservation map: one zero entry.
	RsvmapSize = 16

	Version        = 17
	LastCompatible = 16

	TokenBeginNode = 0x1
	TokenEndNode   = 0x2
	TokenProp      = 0x3
	TokenEnd       = 0x9
)

// Build serializes root into a blob. Properties are written in name order
// and children in slice order.
func Build(root Node) ([]byte, error) {
	b := &builder{offsets: make(map[string]uint32)}
	if err := b.node(root); err != nil {
		return nil, err
	}
	return b.finish(), nil
}

type builder struct {
	structure bytes.Buffer
	strings   bytes.Buffer
	offsets   map[string]uint32
}

func (b *builder) node(n Node) error {
	b.token(TokenBeginNode)
	b.structure.WriteString(n.Name)
	b.structure.WriteByte(0)
	b.pad()

	names := make([]string, 0, len(n.Properties))
	for name := range n.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := b.property(name, n.Properties[name]); err != nil {
			return fmt.Errorf("%s: %w", nodePath(n.Name), err)
		}
	}

	for _, child := range n.Children {
		if err := b.node(child); err != nil {
			return err
		}
	}

	b.token(TokenEndNode)
	return nil
}

func nodePath(name string) string {
	if name == "" {
		return "/"
	}
	return name
}

func (b *builder) property(name string, p Property) error {
	if n := p.DefinedCount(); n != 1 {
		return fmt.Errorf("property %q has %d value kinds", name, n)
	}

	var data []byte
	switch p.Kind() {
	case KindStrings:
		for _, s := range p.Strings {
			data = append(data, s...)
			data = append(data, 0)
		}
	case KindU32:
		for _, v := range p.U32 {
			data = binary.BigEndian.AppendUint32(data, v)
		}
	case KindU64:
		for _, v := range p.U64 {
			data = binary.BigEndian.AppendUint64(data, v)
		}
	case KindBytes:
		data = p.Bytes
	case KindFlag:
	}

	b.token(TokenProp)
	b.token(uint32(len(data)))
	b.token(b.nameOffset(name))
	b.structure.Write(data)
	b.pad()
	return nil
}

// nameOffset interns name in the strings block.
func (b *builder) nameOffset(name string) uint32 {
	if off, ok := b.offsets[name]; ok {
		return off
	}
	off := uint32(b.strings.Len())
	b.strings.WriteString(name)
	b.strings.WriteByte(0)
	b.offsets[name] = off
	return off
}

func (b *builder) token(v uint32) {
	b.structure.Write(binary.BigEndian.AppendUint32(nil, v))
}

func (b *builder) pad() {
	for b.structure.Len()%4 != 0 {
		b.structure.WriteByte(0)
	}
}

func (b *builder) finish() []byte {
	b.token(TokenEnd)

	structOff := uint32(HeaderSize + RsvmapSize)
	stringsOff := structOff + uint32(b.structure.Len())
	total := stringsOff + uint32(b.strings.Len())

	out := make([]byte, 0, total)
	for _, v := range []uint32{
		Magic,
		total,
		structOff,
		stringsOff,
		HeaderSize, // memory reservation map
		Version,
		LastCompatible,
		0, // boot cpu
		uint32(b.strings.Len()),
		uint32(b.structure.Len()),
	} {
		out = binary.BigEndian.AppendUint32(out, v)
	}
	out = append(out, make([]byte, RsvmapSize)...)
	out = append(out, b.structure.Bytes()...)
	out = append(out, b.strings.Bytes()...)
	return out
}
