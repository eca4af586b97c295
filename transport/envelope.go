package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/dots-platform/skrecovery-app/interfaces"
)

const (
	// MaxFrameSize bounds one encoded envelope, header included.
	MaxFrameSize = 18000

	headerSize = 4 + 2
	lengthSize = 4
)

// Envelope is one protocol message between two parties. Round is the
// protocol round (or A-set index during seeding) the payload belongs to.
type Envelope struct {
	Round   uint32
	From    uint16
	Payload []byte
}

// MarshalBinary encodes round, sender and payload without the length prefix.
func (e Envelope) MarshalBinary() ([]byte, error) {
	size := headerSize + len(e.Payload)
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: envelope of %d bytes exceeds %d", interfaces.ErrFraming, size, MaxFrameSize)
	}
	out := make([]byte, size)
	binary.BigEndian.PutUint32(out[0:4], e.Round)
	binary.BigEndian.PutUint16(out[4:6], e.From)
	copy(out[headerSize:], e.Payload)
	return out, nil
}

// UnmarshalBinary decodes the form produced by MarshalBinary.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("%w: short envelope (%d bytes)", interfaces.ErrFraming, len(data))
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: envelope of %d bytes exceeds %d", interfaces.ErrFraming, len(data), MaxFrameSize)
	}
	e.Round = binary.BigEndian.Uint32(data[0:4])
	e.From = binary.BigEndian.Uint16(data[4:6])
	e.Payload = append([]byte(nil), data[headerSize:]...)
	return nil
}
