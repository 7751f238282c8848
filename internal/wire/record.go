// Package wire encodes the replicated session record.
//
// Layout, 4 bytes:
//
//	byte 0  successCount       int8, -1 = not started
//	byte 1  currentStageIndex  int8, -1 = unset
//	byte 2  anomalyVariant     int8, -1 = normal configuration
//	byte 3  flags              bit 0 = recipient is banned, bits 1-7 reserved (zero)
package wire

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
)

const RecordSize = 4

const flagBanned byte = 1 << 0

var ErrShortRecord = errors.New("record too short")
var ErrReservedBits = errors.New("reserved flag bits set")
var ErrOutOfRange = errors.New("field below sentinel")

type Record struct {
	State  engine.State
	Banned bool
}

func (r Record) MarshalBinary() ([]byte, error) {
	if err := check(r.State); err != nil {
		return nil, err
	}
	b := make([]byte, RecordSize)
	b[0] = byte(r.State.SuccessCount)
	b[1] = byte(r.State.StageIndex)
	b[2] = byte(r.State.VariantIndex)
	if r.Banned {
		b[3] |= flagBanned
	}
	return b, nil
}

func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}
	if b[3]&^flagBanned != 0 {
		return fmt.Errorf("%w: %08b", ErrReservedBits, b[3])
	}
	s := engine.State{
		SuccessCount: int8(b[0]),
		StageIndex:   int8(b[1]),
		VariantIndex: int8(b[2]),
	}
	if err := check(s); err != nil {
		return err
	}
	r.State = s
	r.Banned = b[3]&flagBanned != 0
	return nil
}

func Encode(s engine.State, banned bool) ([]byte, error) {
	return Record{State: s, Banned: banned}.MarshalBinary()
}

func Decode(b []byte) (Record, error) {
	var r Record
	err := r.UnmarshalBinary(b)
	return r, err
}

func check(s engine.State) error {
	if s.SuccessCount < engine.Unset || s.StageIndex < engine.Unset || s.VariantIndex < engine.Unset {
		return fmt.Errorf("%w: %+v", ErrOutOfRange, s)
	}
	return nil
}
