// Package codec encodes the fixed binary payloads exchanged with the lending
// program, the trade instruction, and the audit events emitted by the
// orchestrator. All integers are little-endian; strings and vectors use borsh
// framing (u32 length prefix).
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// ErrEncodingFailure is returned when a payload cannot be encoded or when
// bytes on the wire do not match the expected layout.
var ErrEncodingFailure = errors.New("encoding failure")

// Discriminator is the 8-byte type tag prefixed to instructions, accounts and
// events: sha256("<namespace>:<name>")[:8].
type Discriminator [8]byte

// NewDiscriminator computes the discriminator for namespace and name.
func NewDiscriminator(namespace, name string) Discriminator {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d Discriminator
	copy(d[:], sum[:8])
	return d
}

// Bytes returns the discriminator as a slice.
func (d Discriminator) Bytes() []byte {
	return d[:]
}

// encode runs fn against a borsh encoder and returns the produced bytes.
func encode(fn func(enc *bin.Encoder) error) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := fn(bin.NewBorshEncoder(buf)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailure, err)
	}
	return buf.Bytes(), nil
}

// readDiscriminator consumes 8 bytes and checks them against want.
func readDiscriminator(dec *bin.Decoder, want Discriminator) error {
	got, err := dec.ReadNBytes(len(want))
	if err != nil {
		return fmt.Errorf("%w: reading discriminator: %v", ErrEncodingFailure, err)
	}
	if !bytes.Equal(got, want[:]) {
		return fmt.Errorf("%w: discriminator mismatch", ErrEncodingFailure)
	}
	return nil
}

// ensureConsumed rejects trailing bytes after a fixed layout.
func ensureConsumed(dec *bin.Decoder) error {
	if n := dec.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrEncodingFailure, n)
	}
	return nil
}

func writeString(enc *bin.Encoder, s string) error {
	if err := enc.WriteUint32(uint32(len(s)), binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes([]byte(s), false)
}

func readString(dec *bin.Decoder) (string, error) {
	n, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return "", err
	}
	if int(n) > dec.Remaining() {
		return "", fmt.Errorf("string length %d exceeds remaining %d bytes", n, dec.Remaining())
	}
	b, err := dec.ReadNBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
