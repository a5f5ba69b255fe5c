package solana

import (
	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// SystemProgramID allocates accounts and moves native SOL
	SystemProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// SolendProgramID is the Solend lending program that serves flash loans.
	SolendProgramID = solana.MustPublicKeyFromBase58("ALend7Ketfx5bxh6ghsCDXAoDrhvEmsXT3cynB6aPLgx")

	// TradeProgramID is the default deployment address of the trade orchestrator.
	TradeProgramID = solana.MustPublicKeyFromBase58("497cyv12aNpr31KHVJYbRJot1QhpEiVohb2h4zkb4NZh")
)

// ParsePublicKeys parses a list of base58 addresses, failing on the first bad entry.
func ParsePublicKeys(values []string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(values))
	for _, v := range values {
		pk, err := solana.PublicKeyFromBase58(v)
		if err != nil {
			return nil, err
		}
		out = append(out, pk)
	}
	return out, nil
}
