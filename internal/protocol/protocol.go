// Package protocol implements inbound framing for game client connections.
//
// Every client message is [opcode:1][length prefix per framing rule][payload].
// Opcodes are scoped per Device; a Table built once at startup maps each
// (device, opcode) to a Descriptor carrying the framing rule, the decode
// routine and the handler. A FrameReader drains complete frames from a
// connection's Stream without ever blocking on partial data.
package protocol

// MaxOpcode is the highest opcode value.
const MaxOpcode = 255
