// Package poles drives an array of linear actuators ("poles") sharing a CAN bus.
//
// Every pole is addressed by a small integer ID and speaks a fixed 8-byte
// command/response protocol:
//
//	byte 0    pole ID
//	byte 1    direction (0 write, 1 read) / status in responses (1 ok)
//	byte 2    command index
//	byte 3-7  40-bit data, most significant byte first
//
// On top of the codec the package offers named postures (BodyModel), ordered
// posture collections with a text file format (BodyModels), and a Controller
// that moves the whole array between postures by sending only the poles whose
// target length changed.
package poles

import (
	"fmt"
	"sort"
	"strings"

	"github.com/notnil/canbus"
)

// FrameSize is the payload length of every command and response frame.
const FrameSize = 8

// MaxData is the largest value that fits the 40-bit data field.
const MaxData = 1<<40 - 1

// MaxPoleID is the largest ID that fits byte 0 of a frame.
const MaxPoleID = 0xFF

// Direction selects between writing and reading a pole register.
type Direction byte

const (
	Write Direction = 0
	Read  Direction = 1
)

func (d Direction) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}

// CommandIndex identifies the pole register a command addresses.
type CommandIndex byte

// Command indices understood by the pole firmware.
const (
	IndexStatus    CommandIndex = 1
	IndexLength    CommandIndex = 2
	IndexReset     CommandIndex = 4
	IndexID        CommandIndex = 51 // 0x33
	IndexMaxLength CommandIndex = 52 // 0x34
)

// Response status byte values.
const (
	ResponseError = 0
	ResponseOK    = 1
)

// StatusFields maps the symbolic names accepted by ReadStatus to command indices.
var StatusFields = map[string]CommandIndex{
	"LENGTH": IndexLength,
	"ID":     IndexID,
	"MAX":    IndexMaxLength,
}

// StatusFieldNames returns the accepted ReadStatus field names in sorted order.
func StatusFieldNames() []string {
	names := make([]string, 0, len(StatusFields))
	for name := range StatusFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupStatusField resolves a symbolic status field name.
func LookupStatusField(field string) (CommandIndex, error) {
	idx, ok := StatusFields[strings.ToUpper(strings.TrimSpace(field))]
	if !ok {
		return 0, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownStatusField, field,
			strings.Join(StatusFieldNames(), ", "))
	}
	return idx, nil
}

// Command is a single logical instruction addressed to one pole.
type Command struct {
	Pole      int
	Direction Direction
	Index     CommandIndex
	Data      int64 // 40-bit unsigned payload, 0 for reads
}

// Instruction builders

// SetLengthCommand commands a pole to extend to length millimeters.
func SetLengthCommand(pole, length int) Command {
	return Command{Pole: pole, Direction: Write, Index: IndexLength, Data: int64(length)}
}

// ChangeIDCommand assigns a new bus ID to a pole.
func ChangeIDCommand(pole, newID int) Command {
	return Command{Pole: pole, Direction: Write, Index: IndexID, Data: int64(newID)}
}

// ResetCommand resets a pole.
func ResetCommand(pole int) Command {
	return Command{Pole: pole, Direction: Write, Index: IndexReset}
}

// SetMaxLengthCommand stores the maximum extension of a pole.
func SetMaxLengthCommand(pole, maxLength int) Command {
	return Command{Pole: pole, Direction: Write, Index: IndexMaxLength, Data: int64(maxLength)}
}

// ReadStatusCommand requests the value of a status field from a pole.
func ReadStatusCommand(pole int, field string) (Command, error) {
	idx, err := LookupStatusField(field)
	if err != nil {
		return Command{}, err
	}
	return Command{Pole: pole, Direction: Read, Index: idx}, nil
}

// Validate checks that the command fits the wire format.
func (c Command) Validate() error {
	if c.Pole < 0 || c.Pole > MaxPoleID {
		return fmt.Errorf("%w: %d (valid range: 0-%d)", ErrInvalidPoleID, c.Pole, MaxPoleID)
	}
	if c.Data < 0 || c.Data > MaxData {
		return fmt.Errorf("%w: %d", ErrInvalidDataRange, c.Data)
	}
	return nil
}

// Bytes encodes the command into its 8-byte wire layout.
func (c Command) Bytes() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, FrameSize)
	buf[0] = byte(c.Pole)
	buf[1] = byte(c.Direction)
	buf[2] = byte(c.Index)
	putUint40(buf[3:], uint64(c.Data))
	return buf, nil
}

// Frame encodes the command into a CAN frame. The arbitration ID equals the
// pole ID and the frame always uses the extended identifier format.
func (c Command) Frame() (canbus.Frame, error) {
	data, err := c.Bytes()
	if err != nil {
		return canbus.Frame{}, err
	}
	f := canbus.Frame{
		ID:       uint32(c.Pole),
		Extended: true,
		Len:      FrameSize,
	}
	copy(f.Data[:], data)
	return f, nil
}

// String returns the payload as 16 hex digits, or "INVALID" when the command
// cannot be encoded.
func (c Command) String() string {
	data, err := c.Bytes()
	if err != nil {
		return "INVALID"
	}
	return fmt.Sprintf("%X", data)
}

// Response is a decoded pole response frame.
type Response struct {
	FrameID uint32       // Bus arbitration ID
	ID      int          // Responding pole (byte 0)
	OK      bool         // Status byte equals ResponseOK
	Index   CommandIndex // Echoed command index
	Data    int64        // 40-bit payload

	raw [FrameSize]byte
}

// DecodeResponse decodes a received CAN frame.
func DecodeResponse(f canbus.Frame) (Response, error) {
	if int(f.Len) < FrameSize {
		return Response{}, fmt.Errorf("%w: length %d, need %d", ErrMalformedFrame, f.Len, FrameSize)
	}
	return ParseResponse(f.ID, f.Data[:])
}

// ParseResponse decodes a raw response payload received under frameID.
func ParseResponse(frameID uint32, data []byte) (Response, error) {
	if len(data) < FrameSize {
		return Response{}, fmt.Errorf("%w: length %d, need %d", ErrMalformedFrame, len(data), FrameSize)
	}
	r := Response{
		FrameID: frameID,
		ID:      int(data[0]),
		OK:      data[1] == ResponseOK,
		Index:   CommandIndex(data[2]),
		Data:    int64(uint40(data[3:])),
	}
	copy(r.raw[:], data)
	return r, nil
}

// String returns the raw payload as 16 hex digits.
func (r Response) String() string {
	return fmt.Sprintf("%X", r.raw[:])
}

func putUint40(b []byte, v uint64) {
	_ = b[4] // bounds check hint
	b[0] = byte(v >> 32)
	b[1] = byte(v >> 24)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 8)
	b[4] = byte(v)
}

func uint40(b []byte) uint64 {
	_ = b[4] // bounds check hint
	return uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
}
