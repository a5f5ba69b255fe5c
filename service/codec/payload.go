package codec

import (
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// Lending program instruction opcodes.
const (
	BorrowOpcode = uint8(9)
	RepayOpcode  = uint8(10)
)

// PayloadSize is the encoded length of both borrow and repay payloads:
// [0] = opcode (u8), [1..9] = amount (u64).
const PayloadSize = 9

// BorrowPayload is the instruction data for a flash borrow.
type BorrowPayload struct {
	Amount uint64
}

// RepayPayload is the instruction data for a flash repay. Amount already
// includes the fee.
type RepayPayload struct {
	Amount uint64
}

// MarshalBinary encodes the borrow payload.
func (p BorrowPayload) MarshalBinary() ([]byte, error) {
	return encodeOpcodeAmount(BorrowOpcode, p.Amount)
}

// MarshalBinary encodes the repay payload.
func (p RepayPayload) MarshalBinary() ([]byte, error) {
	return encodeOpcodeAmount(RepayOpcode, p.Amount)
}

// DecodeBorrowPayload is the exact inverse of BorrowPayload.MarshalBinary.
func DecodeBorrowPayload(data []byte) (BorrowPayload, error) {
	amount, err := decodeOpcodeAmount(BorrowOpcode, data)
	if err != nil {
		return BorrowPayload{}, err
	}
	return BorrowPayload{Amount: amount}, nil
}

// DecodeRepayPayload is the exact inverse of RepayPayload.MarshalBinary.
func DecodeRepayPayload(data []byte) (RepayPayload, error) {
	amount, err := decodeOpcodeAmount(RepayOpcode, data)
	if err != nil {
		return RepayPayload{}, err
	}
	return RepayPayload{Amount: amount}, nil
}

// PeekOpcode returns the opcode of a lending payload without decoding the rest.
func PeekOpcode(data []byte) (uint8, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty instruction data", ErrEncodingFailure)
	}
	return data[0], nil
}

func encodeOpcodeAmount(opcode uint8, amount uint64) ([]byte, error) {
	return encode(func(enc *bin.Encoder) error {
		if err := enc.WriteUint8(opcode); err != nil {
			return err
		}
		return enc.WriteUint64(amount, binary.LittleEndian)
	})
}

func decodeOpcodeAmount(opcode uint8, data []byte) (uint64, error) {
	if len(data) != PayloadSize {
		return 0, fmt.Errorf("%w: payload is %d bytes, want %d", ErrEncodingFailure, len(data), PayloadSize)
	}
	dec := bin.NewBorshDecoder(data)
	got, err := dec.ReadUint8()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncodingFailure, err)
	}
	if got != opcode {
		return 0, fmt.Errorf("%w: opcode %d, want %d", ErrEncodingFailure, got, opcode)
	}
	amount, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncodingFailure, err)
	}
	return amount, nil
}
