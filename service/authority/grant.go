package authority

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrGrantSpent = errors.New("grant spent")
	ErrGrantScope = errors.New("grant used outside its transaction")
)

// Scope is the transaction a grant is bound to.
type Scope interface {
	TxID() uint64
	Done() bool
}

// Grant is a capability to sign as an Authority a fixed number of times
// within one transaction.
type Grant struct {
	mu        sync.Mutex
	authority Authority
	txID      uint64
	remaining int
}

// Authorize issues a grant for uses signatures inside scope.
func Authorize(a Authority, scope Scope, uses int) *Grant {
	return &Grant{
		authority: a,
		txID:      scope.TxID(),
		remaining: uses,
	}
}

// Authority returns the authority the grant signs as.
func (g *Grant) Authority() Authority {
	return g.authority
}

// Remaining returns how many signatures the grant can still produce.
func (g *Grant) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining
}

// Seeds consumes one use and returns the signer seeds for the host.
func (g *Grant) Seeds(scope Scope) ([][]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if scope.Done() || scope.TxID() != g.txID {
		return nil, fmt.Errorf("%w: issued for tx %d, used in tx %d", ErrGrantScope, g.txID, scope.TxID())
	}
	if g.remaining <= 0 {
		return nil, ErrGrantSpent
	}
	g.remaining--
	return g.authority.SignerSeeds(), nil
}
