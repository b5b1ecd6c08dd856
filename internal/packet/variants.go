// Package packet defines the client message variants, their decode routines
// and the Desktop descriptor table.
package packet

import "fmt"

// Message kinds. A descriptor's name equals the kind of the variant it
// decodes.
const (
	KindMoveGameClick    = "move_game_click"
	KindMoveMinimapClick = "move_minimap_click"
	KindIfButton         = "if_button"
	KindClientCheat      = "client_cheat"
	KindOpHeld1          = "op_held1"
	KindOpHeld6          = "op_held6"
	KindPublicChat       = "public_chat"
	KindRaw              = "raw"
)

// IfButtonTagBase is the tag of the first interface button alias opcode.
const IfButtonTagBase = 1

// MoveGameClick is a walk request from a click in the game scene.
type MoveGameClick struct {
	X    int
	Y    int
	Type int
}

func (MoveGameClick) Kind() string { return KindMoveGameClick }

// MoveMinimapClick is a walk request from a click on the minimap.
type MoveMinimapClick struct {
	X    int
	Y    int
	Type int
}

func (MoveMinimapClick) Kind() string { return KindMoveMinimapClick }

// IfButton is a click on an interface component. Type identifies which of
// the alias opcodes carried it.
type IfButton struct {
	Type      int
	Component int32
	Slot      int
	Item      int
}

func (IfButton) Kind() string { return KindIfButton }

// Interface returns the interface id packed in the high half of Component.
func (b IfButton) Interface() int {
	return int(uint32(b.Component) >> 16)
}

// Child returns the child id packed in the low half of Component.
func (b IfButton) Child() int {
	return int(uint32(b.Component) & 0xFFFF)
}

// ClientCheat is a developer console command typed by the player.
type ClientCheat struct {
	Input string
}

func (ClientCheat) Kind() string { return KindClientCheat }

// OpHeld1 is the first option on an inventory item.
type OpHeld1 struct {
	Item      int
	Component int32
	Slot      int
}

func (OpHeld1) Kind() string { return KindOpHeld1 }

func (o OpHeld1) String() string {
	return fmt.Sprintf("OpHeld1(%d, %d, %d)", o.Item, o.Component, o.Slot)
}

// OpHeld6 is the examine option on an inventory item.
type OpHeld6 struct {
	Item int
}

func (OpHeld6) Kind() string { return KindOpHeld6 }

// PublicChat is a chat line said aloud. Data is the client's compressed
// text and is left undecoded.
type PublicChat struct {
	Effect int
	Color  int
	Length int
	Data   []byte
	Type   int
}

func (PublicChat) Kind() string { return KindPublicChat }

// Raw carries the payload of an opcode whose structure is not decoded yet.
type Raw struct {
	Opcode  uint8
	Payload []byte
}

func (Raw) Kind() string { return KindRaw }

func (r Raw) String() string {
	return fmt.Sprintf("Raw(opcode=%d, %d bytes)", r.Opcode, len(r.Payload))
}
