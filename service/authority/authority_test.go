package authority

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProgram = solana.MustPublicKeyFromBase58("497cyv12aNpr31KHVJYbRJot1QhpEiVohb2h4zkb4NZh")

type fakeScope struct {
	id   uint64
	done bool
}

func (s *fakeScope) TxID() uint64 { return s.id }
func (s *fakeScope) Done() bool   { return s.done }

func TestDerive(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a, err := Derive([]byte(DefaultSeed), testProgram)
		require.NoError(t, err)
		b, err := Derive([]byte(DefaultSeed), testProgram)
		require.NoError(t, err)
		assert.Equal(t, a.Address, b.Address)
		assert.Equal(t, a.Bump, b.Bump)
	})

	t.Run("off curve and verifiable", func(t *testing.T) {
		a, err := Derive([]byte(DefaultSeed), testProgram)
		require.NoError(t, err)
		assert.False(t, a.Address.IsOnCurve())
		assert.NoError(t, a.Verify())
	})

	t.Run("different seed yields different address", func(t *testing.T) {
		a, err := Derive([]byte(DefaultSeed), testProgram)
		require.NoError(t, err)
		b, err := Derive([]byte("other-seed"), testProgram)
		require.NoError(t, err)
		assert.NotEqual(t, a.Address, b.Address)
	})

	t.Run("scoped to program", func(t *testing.T) {
		a, err := Derive([]byte(DefaultSeed), testProgram)
		require.NoError(t, err)
		b, err := Derive([]byte(DefaultSeed), solana.SystemProgramID)
		require.NoError(t, err)
		assert.NotEqual(t, a.Address, b.Address)
	})

	t.Run("tampered bump fails verification", func(t *testing.T) {
		a, err := Derive([]byte(DefaultSeed), testProgram)
		require.NoError(t, err)
		a.Bump--
		assert.ErrorIs(t, a.Verify(), ErrAddressMismatch)
	})
}

func TestDeriveAvailable(t *testing.T) {
	canonical, err := Derive([]byte(DefaultSeed), testProgram)
	require.NoError(t, err)

	t.Run("matches canonical when nothing collides", func(t *testing.T) {
		got, err := DeriveAvailable([]byte(DefaultSeed), testProgram, nil)
		require.NoError(t, err)
		assert.Equal(t, canonical, got)
	})

	t.Run("falls back past a collision deterministically", func(t *testing.T) {
		occupied := func(k solana.PublicKey) bool { return k.Equals(canonical.Address) }
		first, err := DeriveAvailable([]byte(DefaultSeed), testProgram, occupied)
		require.NoError(t, err)
		second, err := DeriveAvailable([]byte(DefaultSeed), testProgram, occupied)
		require.NoError(t, err)

		assert.NotEqual(t, canonical.Address, first.Address)
		assert.Less(t, first.Bump, canonical.Bump)
		assert.Equal(t, first, second)
		assert.NoError(t, first.Verify())
	})

	t.Run("everything occupied", func(t *testing.T) {
		_, err := DeriveAvailable([]byte(DefaultSeed), testProgram, func(solana.PublicKey) bool { return true })
		assert.ErrorIs(t, err, ErrNoViableBump)
	})
}

func TestGrant(t *testing.T) {
	a, err := Derive([]byte(DefaultSeed), testProgram)
	require.NoError(t, err)

	t.Run("consumes uses", func(t *testing.T) {
		scope := &fakeScope{id: 7}
		g := Authorize(a, scope, 2)

		seeds, err := g.Seeds(scope)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte(DefaultSeed), {a.Bump}}, seeds)
		_, err = g.Seeds(scope)
		require.NoError(t, err)
		assert.Equal(t, 0, g.Remaining())

		_, err = g.Seeds(scope)
		assert.ErrorIs(t, err, ErrGrantSpent)
	})

	t.Run("rejected in another transaction", func(t *testing.T) {
		g := Authorize(a, &fakeScope{id: 7}, 1)
		_, err := g.Seeds(&fakeScope{id: 8})
		assert.ErrorIs(t, err, ErrGrantScope)
		assert.Equal(t, 1, g.Remaining())
	})

	t.Run("rejected after the transaction ends", func(t *testing.T) {
		scope := &fakeScope{id: 7}
		g := Authorize(a, scope, 1)
		scope.done = true
		_, err := g.Seeds(scope)
		assert.ErrorIs(t, err, ErrGrantScope)
	})
}
