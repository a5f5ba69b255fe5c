package lending

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/ledger"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ReserveSize is discriminator (8) + available (8) + outstanding (8).
const ReserveSize = 8 + 8 + 8

var reserveDiscriminator = codec.NewDiscriminator("account", "Reserve")

// Reserve is the lending program's per-reserve state.
type Reserve struct {
	Available   uint64
	Outstanding uint64
}

// MarshalBinary encodes the reserve.
func (r Reserve) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, ReserveSize))
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(reserveDiscriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(r.Available, binary.LittleEndian); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(r.Outstanding, binary.LittleEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsReserve reports whether data carries the reserve discriminator.
func IsReserve(data []byte) bool {
	return len(data) == ReserveSize && bytes.Equal(data[:8], reserveDiscriminator[:])
}

// UnmarshalReserve decodes reserve account data.
func UnmarshalReserve(data []byte) (Reserve, error) {
	if !IsReserve(data) {
		return Reserve{}, fmt.Errorf("%w: not a reserve account", codec.ErrEncodingFailure)
	}
	dec := bin.NewBorshDecoder(data[8:])
	available, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return Reserve{}, fmt.Errorf("%w: %v", codec.ErrEncodingFailure, err)
	}
	outstanding, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return Reserve{}, fmt.Errorf("%w: %v", codec.ErrEncodingFailure, err)
	}
	return Reserve{Available: available, Outstanding: outstanding}, nil
}

// NewReserveAccount returns genesis state for a reserve holding available
// liquidity.
func NewReserveAccount(key, programID solana.PublicKey, available uint64) (*ledger.Account, error) {
	data, err := Reserve{Available: available}.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &ledger.Account{
		Key:      key,
		Owner:    programID,
		Lamports: ledger.MinimumBalance(ReserveSize),
		Data:     data,
	}, nil
}

// NewLiquiditySupply returns genesis state for the reserve's token supply
// account.
func NewLiquiditySupply(key, programID solana.PublicKey, balance uint64) *ledger.Account {
	return &ledger.Account{
		Key:       key,
		Owner:     programID,
		Lamports:  ledger.MinimumBalance(165),
		Balance:   balance,
		Authority: programID,
	}
}
