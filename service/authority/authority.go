// Package authority derives the program-owned signing authority the
// orchestrator uses in place of a held private key, and hands out
// transaction-scoped grants to sign with it.
package authority

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrNoViableBump    = errors.New("no viable bump seed")
	ErrAddressMismatch = errors.New("derived address mismatch")
)

// DefaultSeed is the seed the orchestrator derives its loan authority from.
const DefaultSeed = "flashloan-seed"

// Authority is a program derived address together with the inputs that
// produce it. None of the fields are secret.
type Authority struct {
	Seed      []byte
	ProgramID solana.PublicKey
	Address   solana.PublicKey
	Bump      uint8
}

// Derive returns the canonical authority for seed under programID: the
// first off-curve address searching bumps downward from 255.
func Derive(seed []byte, programID solana.PublicKey) (Authority, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{seed}, programID)
	if err != nil {
		return Authority{}, fmt.Errorf("%w: %v", ErrNoViableBump, err)
	}
	return Authority{
		Seed:      append([]byte(nil), seed...),
		ProgramID: programID,
		Address:   addr,
		Bump:      bump,
	}, nil
}

// DeriveAvailable searches bumps downward from 255 and returns the first
// off-curve address for which occupied reports false. With a nil occupied
// func it returns the canonical authority.
func DeriveAvailable(seed []byte, programID solana.PublicKey, occupied func(solana.PublicKey) bool) (Authority, error) {
	for bump := 255; bump >= 0; bump-- {
		b := uint8(bump)
		addr, err := solana.CreateProgramAddress([][]byte{seed, {b}}, programID)
		if err != nil {
			continue
		}
		if occupied != nil && occupied(addr) {
			continue
		}
		return Authority{
			Seed:      append([]byte(nil), seed...),
			ProgramID: programID,
			Address:   addr,
			Bump:      b,
		}, nil
	}
	return Authority{}, ErrNoViableBump
}

// SignerSeeds returns the seeds the host re-derives the address from.
func (a Authority) SignerSeeds() [][]byte {
	return [][]byte{a.Seed, {a.Bump}}
}

// Verify re-derives the address from seed and bump and checks it matches.
func (a Authority) Verify() error {
	addr, err := solana.CreateProgramAddress(a.SignerSeeds(), a.ProgramID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAddressMismatch, err)
	}
	if !addr.Equals(a.Address) {
		return fmt.Errorf("%w: got %s, want %s", ErrAddressMismatch, addr, a.Address)
	}
	return nil
}

func (a Authority) String() string {
	return fmt.Sprintf("%s (bump %d)", a.Address, a.Bump)
}
