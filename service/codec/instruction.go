package codec

import (
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// TradeDiscriminator prefixes the orchestrator's trade instruction data.
var TradeDiscriminator = NewDiscriminator("global", "trade")

// maxTradeActions bounds the decoded action vector so a hostile length
// prefix cannot force a large allocation.
const maxTradeActions = 1024

// TradeInstruction is the argument block of the orchestrator's single entry
// point: trade(actions: Vec<TradeAction>, amount: u64).
type TradeInstruction struct {
	Actions []TradeAction
	Amount  uint64
}

// MarshalBinary encodes the instruction. Action tags are written as-is so an
// out-of-range tag survives the round trip and is rejected by the
// orchestrator rather than the codec.
func (t TradeInstruction) MarshalBinary() ([]byte, error) {
	return encode(func(enc *bin.Encoder) error {
		if err := enc.WriteBytes(TradeDiscriminator[:], false); err != nil {
			return err
		}
		if err := enc.WriteUint32(uint32(len(t.Actions)), binary.LittleEndian); err != nil {
			return err
		}
		for _, a := range t.Actions {
			if err := enc.WriteUint8(uint8(a)); err != nil {
				return err
			}
		}
		return enc.WriteUint64(t.Amount, binary.LittleEndian)
	})
}

// DecodeTradeInstruction is the inverse of TradeInstruction.MarshalBinary.
func DecodeTradeInstruction(data []byte) (TradeInstruction, error) {
	dec := bin.NewBorshDecoder(data)
	if err := readDiscriminator(dec, TradeDiscriminator); err != nil {
		return TradeInstruction{}, err
	}
	n, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return TradeInstruction{}, fmt.Errorf("%w: reading action count: %v", ErrEncodingFailure, err)
	}
	if n > maxTradeActions || int(n) > dec.Remaining() {
		return TradeInstruction{}, fmt.Errorf("%w: action count %d out of range", ErrEncodingFailure, n)
	}
	actions := make([]TradeAction, 0, n)
	for i := uint32(0); i < n; i++ {
		tag, err := dec.ReadUint8()
		if err != nil {
			return TradeInstruction{}, fmt.Errorf("%w: reading action %d: %v", ErrEncodingFailure, i, err)
		}
		actions = append(actions, TradeAction(tag))
	}
	amount, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return TradeInstruction{}, fmt.Errorf("%w: reading amount: %v", ErrEncodingFailure, err)
	}
	if err := ensureConsumed(dec); err != nil {
		return TradeInstruction{}, err
	}
	return TradeInstruction{Actions: actions, Amount: amount}, nil
}
