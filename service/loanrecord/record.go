// Package loanrecord manages the on-ledger record of an outstanding flash
// loan. The record lives at the loan authority address, is owned by the
// orchestrator program, and only exists between borrow and repay.
package loanrecord

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/ledger"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrAlreadyOutstanding    = errors.New("loan already outstanding")
	ErrNoSuchRecord          = errors.New("no such loan record")
	ErrInsufficientRentFunds = errors.New("insufficient funds for loan record rent")
)

// Size is the allocated length: discriminator (8) + borrower (32) + amount (8).
const Size = 8 + solana.PublicKeyLength + 8

// Discriminator tags loan record account data.
var Discriminator = codec.NewDiscriminator("account", "LoanRecord")

// Record is an outstanding loan.
type Record struct {
	Borrower solana.PublicKey
	Amount   uint64
}

// MarshalBinary encodes the record in its fixed layout.
func (r Record) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, Size))
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(Discriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(r.Borrower[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(r.Amount, binary.LittleEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a record, checking size and discriminator.
func Unmarshal(data []byte) (Record, error) {
	if len(data) != Size {
		return Record{}, fmt.Errorf("%w: data is %d bytes, want %d", codec.ErrEncodingFailure, len(data), Size)
	}
	if !bytes.Equal(data[:8], Discriminator[:]) {
		return Record{}, fmt.Errorf("%w: not a loan record", codec.ErrEncodingFailure)
	}
	dec := bin.NewBorshDecoder(data[8:])
	borrower, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", codec.ErrEncodingFailure, err)
	}
	amount, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", codec.ErrEncodingFailure, err)
	}
	return Record{Borrower: solana.PublicKeyFromBytes(borrower), Amount: amount}, nil
}

// Host is the slice of the ledger's invoke context the record needs.
type Host interface {
	ProgramID() solana.PublicKey
	Exists(key solana.PublicKey) bool
	Account(key solana.PublicKey) (*ledger.Account, error)
	Allocate(payer, key solana.PublicKey, space uint64, owner solana.PublicKey, signerSeeds ...[][]byte) error
	SetData(key solana.PublicKey, data []byte) error
	Close(key, refundTo solana.PublicKey) error
}

// Open allocates the record at key, paid for by payer. seeds must derive key
// under the running program.
func Open(h Host, key, payer solana.PublicKey, seeds [][]byte, rec Record) error {
	if h.Exists(key) {
		return fmt.Errorf("%w: %s", ErrAlreadyOutstanding, key)
	}
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	if err := h.Allocate(payer, key, Size, h.ProgramID(), seeds); err != nil {
		switch {
		case errors.Is(err, ledger.ErrAccountAlreadyExists):
			return fmt.Errorf("%w: %v", ErrAlreadyOutstanding, err)
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return fmt.Errorf("%w: %v", ErrInsufficientRentFunds, err)
		}
		return fmt.Errorf("allocate loan record: %w", err)
	}
	return h.SetData(key, data)
}

// Load reads the record at key.
func Load(h Host, key solana.PublicKey) (Record, error) {
	acc, err := h.Account(key)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s", ErrNoSuchRecord, key)
	}
	if !acc.Owner.Equals(h.ProgramID()) {
		return Record{}, fmt.Errorf("%w: %s owned by %s", ErrNoSuchRecord, key, acc.Owner)
	}
	rec, err := Unmarshal(acc.Data)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrNoSuchRecord, err)
	}
	return rec, nil
}

// Close deallocates the record and refunds its rent to refundTo.
func Close(h Host, key, refundTo solana.PublicKey) (Record, error) {
	rec, err := Load(h, key)
	if err != nil {
		return Record{}, err
	}
	if err := h.Close(key, refundTo); err != nil {
		return Record{}, fmt.Errorf("close loan record: %w", err)
	}
	return rec, nil
}
