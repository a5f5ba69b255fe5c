package main

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/brojonat/flashtrade/service/authority"
	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/config"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePayloadCommands(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{
			name: "borrow hex",
			args: []string{"codec", "borrow", "1000"},
			want: "09e803000000000000",
		},
		{
			name: "repay hex",
			args: []string{"codec", "repay", "1010"},
			want: "0af203000000000000",
		},
		{
			name: "borrow base64",
			args: []string{"codec", "borrow", "--encoding", "base64", "1000"},
			want: base64.StdEncoding.EncodeToString([]byte{9, 0xe8, 3, 0, 0, 0, 0, 0, 0}),
		},
		{
			name:    "malformed amount",
			args:    []string{"codec", "borrow", "12abc"},
			wantErr: "invalid amount",
		},
		{
			name:    "unknown encoding",
			args:    []string{"codec", "repay", "--encoding", "base32", "1"},
			wantErr: "unknown encoding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runApp(t, tt.args...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, strings.TrimSpace(out))
		})
	}
}

func TestTradeInstructionRoundTrip(t *testing.T) {
	for _, enc := range []string{"hex", "base64", "base58"} {
		t.Run(enc, func(t *testing.T) {
			out, err := runApp(t, "codec", "trade", "--encoding", enc, "--amount", "777", "buy", "sell", "buy")
			require.NoError(t, err)

			decoded, err := runApp(t, "--json", "codec", "decode-instruction", "--encoding", enc, strings.TrimSpace(out))
			require.NoError(t, err)

			var fields map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(decoded), &fields))
			assert.Equal(t, "trade", fields["kind"])
			assert.Equal(t, float64(777), fields["amount"])
			assert.Equal(t, []interface{}{"buy", "sell", "buy"}, fields["actions"])
		})
	}
}

func TestDecodeInstruction_Payloads(t *testing.T) {
	decoded, err := decodeInstruction([]byte{10, 0xf2, 3, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "repay", decoded["kind"])
	assert.Equal(t, uint64(1010), decoded["amount"])

	_, err = decodeInstruction([]byte{3, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, codec.ErrEncodingFailure)

	_, err = decodeInstruction([]byte{1, 2, 3})
	assert.ErrorIs(t, err, codec.ErrEncodingFailure)
}

func TestDecodeEventCommand(t *testing.T) {
	borrower := solana.NewWallet().PublicKey()
	data, err := codec.EncodeEvent(codec.FlashloanEvent{Borrower: borrower, Amount: 42})
	require.NoError(t, err)

	out, err := runApp(t, "--json", "codec", "decode-event", base64.StdEncoding.EncodeToString(data))
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &fields))
	assert.Equal(t, codec.FlashloanEventName, fields["event_type"])
	assert.Equal(t, borrower.String(), fields["borrower"])
	assert.Equal(t, float64(42), fields["amount"])

	_, err = runApp(t, "codec", "decode-event", base64.StdEncoding.EncodeToString([]byte("not an event")))
	assert.Error(t, err)
}

func TestDeriveAuthorityCommand(t *testing.T) {
	programID := solana.MustPublicKeyFromBase58(config.DefaultProgramID)
	want, err := authority.Derive([]byte(authority.DefaultSeed), programID)
	require.NoError(t, err)

	out, err := runApp(t, "--json", "authority", "derive", "--program", config.DefaultProgramID)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &fields))
	assert.Equal(t, want.Address.String(), fields["address"])
	assert.Equal(t, float64(want.Bump), fields["bump"])
	assert.Equal(t, authority.DefaultSeed, fields["seed"])

	_, err = runApp(t, "authority", "derive", "--program", "not-a-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid program id")
}
