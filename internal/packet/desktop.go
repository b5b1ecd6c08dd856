package packet

import (
	"fmt"

	"github.com/Nozemi/rsmod/internal/handler"
	"github.com/Nozemi/rsmod/internal/protocol"
)

// IfButtonOpcodes are the interface button aliases in tag order.
var IfButtonOpcodes = []uint8{17, 18, 19, 0, 39, 26, 91, 47, 25}

const ifButtonPrimary = 22

// placeholder is an opcode whose framing is known but whose structure is not.
type placeholder struct {
	opcode uint8
	length int
}

// desktopPlaceholders holds the remaining client opcodes. Lengths use the
// -1 / -2 convention for u8 / u16 prefixed frames.
var desktopPlaceholders = []placeholder{
	{1, -1}, {2, 2}, {3, 8}, {4, -1}, {5, 9}, {6, 7}, {8, 3}, {9, 3},
	{10, 5}, {11, -2}, {12, -1}, {13, 8}, {14, 0}, {15, 3}, {16, 10},
	{20, 4}, {21, 2}, {23, 3}, {24, 13}, {27, 4}, {28, -1}, {29, -1},
	{30, 3}, {31, 3}, {32, 3}, {33, 2}, {34, -1}, {35, -1}, {36, -1},
	{37, 11}, {38, 4}, {40, -1}, {41, 7}, {42, 8}, {43, 16}, {44, -1},
	{45, 7}, {46, 3}, {48, 0}, {49, 3}, {50, 4}, {51, 7}, {52, -2},
	{53, 3}, {54, 8}, {55, 0}, {56, 4}, {58, 14}, {59, 3}, {60, -2},
	{61, 6}, {62, 0}, {63, 16}, {64, 6}, {65, 15}, {66, 3}, {67, 8},
	{68, 7}, {69, 8}, {70, -1}, {71, 15}, {72, 9}, {73, -1}, {74, 15},
	{75, -1}, {76, 8}, {77, 11}, {78, 0}, {79, 1}, {80, 7}, {81, 3},
	{82, 8}, {83, -1}, {84, 7}, {86, 7}, {87, -1}, {88, -1}, {89, 16},
	{90, 7}, {92, 15}, {93, 8}, {97, 7}, {98, 2}, {99, 3}, {100, -1},
	{101, -1}, {102, -1}, {103, 11}, {104, 7}, {105, 11},
}

// DesktopTable registers every Desktop client message on b, binding the
// handlers from h. A nil set binds no-op handlers.
func DesktopTable(b *protocol.TableBuilder, h *handler.Set) error {
	specs := []protocol.DescriptorSpec{
		{
			Name:    KindMoveGameClick,
			Opcodes: []uint8{96},
			Rule:    protocol.PrefixedU8,
			Decode:  DecodeMoveGameClick,
		},
		{
			Name:    KindMoveMinimapClick,
			Opcodes: []uint8{85},
			Rule:    protocol.PrefixedU8,
			Decode:  DecodeMoveMinimapClick,
		},
		{
			Name:       KindIfButton,
			Opcodes:    append([]uint8{ifButtonPrimary}, IfButtonOpcodes...),
			TagOpcodes: IfButtonOpcodes,
			TagBase:    IfButtonTagBase,
			Rule:       protocol.Fixed(8),
			Decode:     DecodeIfButton,
		},
		{
			Name:    KindClientCheat,
			Opcodes: []uint8{57},
			Rule:    protocol.PrefixedU8,
			Decode:  DecodeClientCheat,
		},
		{
			Name:    KindOpHeld1,
			Opcodes: []uint8{94},
			Rule:    protocol.Fixed(8),
			Decode:  DecodeOpHeld1,
		},
		{
			Name:    KindOpHeld6,
			Opcodes: []uint8{7},
			Rule:    protocol.Fixed(2),
			Decode:  DecodeOpHeld6,
		},
		{
			Name:    KindPublicChat,
			Opcodes: []uint8{95},
			Rule:    protocol.PrefixedU8,
			Decode:  DecodePublicChat,
		},
	}

	for _, s := range specs {
		s.Handler = h.For(s.Name)
		if err := b.Register(protocol.Desktop, s); err != nil {
			return fmt.Errorf("register %s: %w", s.Name, err)
		}
	}

	raw := h.For(KindRaw)
	for _, p := range desktopPlaceholders {
		rule, err := protocol.RuleFromLength(p.length)
		if err != nil {
			return fmt.Errorf("opcode %d: %w", p.opcode, err)
		}
		err = b.Register(protocol.Desktop, protocol.DescriptorSpec{
			Name:    fmt.Sprintf("%s_%d", KindRaw, p.opcode),
			Opcodes: []uint8{p.opcode},
			Rule:    rule,
			Decode:  DecodeRaw,
			Handler: raw,
		})
		if err != nil {
			return fmt.Errorf("register opcode %d: %w", p.opcode, err)
		}
	}
	return nil
}

// NewTable builds the complete client table for every supported device.
func NewTable(h *handler.Set) (*protocol.Table, error) {
	b := protocol.NewTableBuilder()
	if err := DesktopTable(b, h); err != nil {
		return nil, err
	}
	return b.Build()
}
