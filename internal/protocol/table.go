package protocol

import (
	"fmt"
	"sort"
)

// DescriptorSpec is the registration input for one logical message.
type DescriptorSpec struct {
	Name string
	// Opcodes lists every opcode this descriptor claims. The first entry is
	// the primary opcode used in listings.
	Opcodes []uint8
	// TagOpcodes orders the opcodes that select a variant sub-shape; the tag
	// of TagOpcodes[i] is TagBase+i. Opcodes absent from it get TagBase-1.
	TagOpcodes []uint8
	TagBase    int
	Rule       FramingRule
	Decode     DecodeFunc
	Handler    Handler
}

// Descriptor is the immutable association of opcodes, framing rule, decode
// routine and handler.
type Descriptor struct {
	name    string
	device  Device
	opcodes []uint8
	rule    FramingRule
	decode  DecodeFunc
	handler Handler
	tags    map[uint8]int
}

// Name returns the message name.
func (d *Descriptor) Name() string { return d.name }

// Device returns the device the descriptor is registered on.
func (d *Descriptor) Device() Device { return d.device }

// Opcode returns the primary opcode.
func (d *Descriptor) Opcode() uint8 { return d.opcodes[0] }

// Opcodes returns a copy of every claimed opcode.
func (d *Descriptor) Opcodes() []uint8 {
	out := make([]uint8, len(d.opcodes))
	copy(out, d.opcodes)
	return out
}

// Rule returns the framing rule.
func (d *Descriptor) Rule() FramingRule { return d.rule }

// Handler returns the handler bound at registration.
func (d *Descriptor) Handler() Handler { return d.handler }

// Tag returns the variant tag for opcode.
func (d *Descriptor) Tag(opcode uint8) int {
	return d.tags[opcode]
}

// DescriptorInfo is a listing row for a descriptor. Opcodes are ints so
// they encode as a JSON array.
type DescriptorInfo struct {
	Name    string `json:"name"`
	Opcodes []int  `json:"opcodes"`
	Framing string `json:"framing"`
	Length  int    `json:"length"`
}

// Info summarises the descriptor.
func (d *Descriptor) Info() DescriptorInfo {
	ops := make([]int, len(d.opcodes))
	for i, op := range d.opcodes {
		ops[i] = int(op)
	}
	return DescriptorInfo{
		Name:    d.name,
		Opcodes: ops,
		Framing: d.rule.String(),
		Length:  d.rule.Length(),
	}
}

// TableBuilder collects descriptors at startup. It is not safe for
// concurrent use; Build hands out an immutable Table.
type TableBuilder struct {
	devices map[Device]*[256]*Descriptor
	err     error
	built   bool
}

// NewTableBuilder returns an empty builder.
func NewTableBuilder() *TableBuilder {
	return &TableBuilder{devices: make(map[Device]*[256]*Descriptor)}
}

// Register adds a descriptor for device. Registration is all-or-nothing: a
// duplicate opcode leaves the builder unchanged and the error is also
// reported again by Build.
func (b *TableBuilder) Register(device Device, spec DescriptorSpec) error {
	if b.built {
		return ErrTableBuilt
	}
	if err := b.register(device, spec); err != nil {
		if b.err == nil {
			b.err = err
		}
		return err
	}
	return nil
}

func (b *TableBuilder) register(device Device, spec DescriptorSpec) error {
	if len(spec.Opcodes) == 0 {
		return fmt.Errorf("protocol: descriptor %q on %s has no opcodes", spec.Name, device)
	}
	if spec.Decode == nil {
		return fmt.Errorf("protocol: descriptor %q on %s has no decode routine", spec.Name, device)
	}
	if spec.Rule.Kind == FramingFixed && spec.Rule.Size < 0 {
		return fmt.Errorf("protocol: descriptor %q on %s has negative fixed size", spec.Name, device)
	}

	slots, ok := b.devices[device]
	if !ok {
		slots = new([256]*Descriptor)
	}

	seen := make(map[uint8]bool, len(spec.Opcodes))
	for _, op := range spec.Opcodes {
		if existing := slots[op]; existing != nil {
			return &DuplicateRegistrationError{Device: device, Opcode: op, Existing: existing.name, New: spec.Name}
		}
		if seen[op] {
			return &DuplicateRegistrationError{Device: device, Opcode: op, Existing: spec.Name, New: spec.Name}
		}
		seen[op] = true
	}

	tags := make(map[uint8]int, len(spec.Opcodes))
	for _, op := range spec.Opcodes {
		tags[op] = spec.TagBase - 1
	}
	for i, op := range spec.TagOpcodes {
		if !seen[op] {
			return fmt.Errorf("protocol: descriptor %q tag opcode %d is not registered by it", spec.Name, op)
		}
		tags[op] = spec.TagBase + i
	}

	handler := spec.Handler
	if handler == nil {
		handler = NopHandler
	}

	d := &Descriptor{
		name:    spec.Name,
		device:  device,
		opcodes: append([]uint8(nil), spec.Opcodes...),
		rule:    spec.Rule,
		decode:  spec.Decode,
		handler: handler,
		tags:    tags,
	}
	for _, op := range spec.Opcodes {
		slots[op] = d
	}
	b.devices[device] = slots
	return nil
}

// Build validates the registrations and returns the immutable table. The
// builder cannot be used afterwards.
func (b *TableBuilder) Build() (*Table, error) {
	if b.built {
		return nil, ErrTableBuilt
	}
	if b.err != nil {
		return nil, b.err
	}
	b.built = true

	t := &Table{devices: make(map[Device]*[256]*Descriptor, len(b.devices))}
	for dev, slots := range b.devices {
		t.devices[dev] = slots
	}
	return t, nil
}

// Table maps (device, opcode) to a descriptor. It is read-only and safe to
// share between connections.
type Table struct {
	devices map[Device]*[256]*Descriptor
}

// Lookup returns the descriptor for opcode on device.
func (t *Table) Lookup(device Device, opcode uint8) (*Descriptor, error) {
	if slots, ok := t.devices[device]; ok {
		if d := slots[opcode]; d != nil {
			return d, nil
		}
	}
	return nil, &UnknownOpcodeError{Device: device, Opcode: opcode}
}

// Descriptors lists the distinct descriptors of device ordered by primary
// opcode.
func (t *Table) Descriptors(device Device) []*Descriptor {
	slots, ok := t.devices[device]
	if !ok {
		return nil
	}
	seen := make(map[*Descriptor]bool)
	var out []*Descriptor
	for _, d := range slots {
		if d != nil && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Opcode() < out[j].Opcode() })
	return out
}

// OpcodeCount returns how many opcodes are registered for device.
func (t *Table) OpcodeCount(device Device) int {
	slots, ok := t.devices[device]
	if !ok {
		return 0
	}
	n := 0
	for _, d := range slots {
		if d != nil {
			n++
		}
	}
	return n
}
