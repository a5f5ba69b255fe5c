package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/brojonat/flashtrade/service/authority"
	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/config"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/urfave/cli/v2"
)

var encodingFlag = &cli.StringFlag{
	Name:    "encoding",
	Aliases: []string{"e"},
	Usage:   "Byte encoding: hex, base64 or base58",
	Value:   "hex",
}

func encodeBytes(encoding string, data []byte) (string, error) {
	switch strings.ToLower(encoding) {
	case "hex":
		return hex.EncodeToString(data), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	case "base58":
		return base58.Encode(data), nil
	default:
		return "", fmt.Errorf("unknown encoding %q (want hex, base64 or base58)", encoding)
	}
}

func decodeBytes(encoding, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(encoding) {
	case "hex":
		data, err = hex.DecodeString(strings.TrimPrefix(s, "0x"))
	case "base64":
		data, err = base64.StdEncoding.DecodeString(s)
	case "base58":
		data, err = base58.Decode(s)
	default:
		return nil, fmt.Errorf("unknown encoding %q (want hex, base64 or base58)", encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s input: %w", encoding, err)
	}
	return data, nil
}

func deriveAuthorityCommand() *cli.Command {
	return &cli.Command{
		Name:  "derive",
		Usage: "Derive the loan authority address for a seed and program",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "seed",
				Usage:   "Derivation seed",
				EnvVars: []string{"FLASHLOAN_SEED"},
				Value:   authority.DefaultSeed,
			},
			&cli.StringFlag{
				Name:    "program",
				Usage:   "Trade program ID",
				EnvVars: []string{"PROGRAM_ID"},
				Value:   config.DefaultProgramID,
			},
		},
		Action: func(c *cli.Context) error {
			programID, err := solana.PublicKeyFromBase58(c.String("program"))
			if err != nil {
				return fmt.Errorf("invalid program id: %w", err)
			}

			auth, err := authority.Derive([]byte(c.String("seed")), programID)
			if err != nil {
				return err
			}
			if err := auth.Verify(); err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]interface{}{
					"program_id": auth.ProgramID.String(),
					"seed":       string(auth.Seed),
					"address":    auth.Address.String(),
					"bump":       auth.Bump,
				})
			}
			fmt.Fprintf(c.App.Writer, "Program: %s\n", auth.ProgramID)
			fmt.Fprintf(c.App.Writer, "Seed:    %s\n", auth.Seed)
			fmt.Fprintf(c.App.Writer, "Address: %s\n", auth.Address)
			fmt.Fprintf(c.App.Writer, "Bump:    %d\n", auth.Bump)
			return nil
		},
	}
}

func encodeBorrowCommand() *cli.Command {
	return &cli.Command{
		Name:      "borrow",
		Usage:     "Encode a flash borrow payload",
		ArgsUsage: "AMOUNT",
		Flags:     []cli.Flag{encodingFlag},
		Action: func(c *cli.Context) error {
			amount, err := amountArg(c)
			if err != nil {
				return err
			}
			data, err := codec.BorrowPayload{Amount: amount}.MarshalBinary()
			if err != nil {
				return err
			}
			return printEncoded(c, data)
		},
	}
}

func encodeRepayCommand() *cli.Command {
	return &cli.Command{
		Name:      "repay",
		Usage:     "Encode a flash repay payload; the amount must already include the fee",
		ArgsUsage: "AMOUNT",
		Flags:     []cli.Flag{encodingFlag},
		Action: func(c *cli.Context) error {
			amount, err := amountArg(c)
			if err != nil {
				return err
			}
			data, err := codec.RepayPayload{Amount: amount}.MarshalBinary()
			if err != nil {
				return err
			}
			return printEncoded(c, data)
		},
	}
}

func encodeTradeCommand() *cli.Command {
	return &cli.Command{
		Name:      "trade",
		Usage:     "Encode the trade instruction data",
		ArgsUsage: "ACTION [ACTION...]",
		Flags: []cli.Flag{
			encodingFlag,
			&cli.Uint64Flag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Amount to borrow, in base units",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			actions, err := codec.ParseTradeActions(c.Args().Slice())
			if err != nil {
				return err
			}
			data, err := codec.TradeInstruction{Actions: actions, Amount: c.Uint64("amount")}.MarshalBinary()
			if err != nil {
				return err
			}
			return printEncoded(c, data)
		},
	}
}

func decodeInstructionCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode-instruction",
		Usage:     "Decode trade instruction data or a borrow/repay payload",
		ArgsUsage: "DATA",
		Flags:     []cli.Flag{encodingFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: encoded data")
			}
			data, err := decodeBytes(c.String("encoding"), c.Args().First())
			if err != nil {
				return err
			}

			decoded, err := decodeInstruction(data)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, decoded)
			}
			printFields(c.App.Writer, decoded)
			return nil
		},
	}
}

// decodeInstruction tells payloads from trade instructions by length: lending
// payloads are exactly PayloadSize bytes, trade data is always longer.
func decodeInstruction(data []byte) (map[string]interface{}, error) {
	if len(data) == codec.PayloadSize {
		op, err := codec.PeekOpcode(data)
		if err != nil {
			return nil, err
		}
		switch op {
		case codec.BorrowOpcode:
			p, err := codec.DecodeBorrowPayload(data)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"kind": "borrow", "opcode": op, "amount": p.Amount}, nil
		case codec.RepayOpcode:
			p, err := codec.DecodeRepayPayload(data)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"kind": "repay", "opcode": op, "amount": p.Amount}, nil
		default:
			return nil, fmt.Errorf("%w: unknown opcode %d", codec.ErrEncodingFailure, op)
		}
	}

	ix, err := codec.DecodeTradeInstruction(data)
	if err != nil {
		return nil, err
	}
	actions := make([]string, 0, len(ix.Actions))
	for _, a := range ix.Actions {
		actions = append(actions, a.String())
	}
	return map[string]interface{}{"kind": "trade", "actions": actions, "amount": ix.Amount}, nil
}

func decodeEventCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode-event",
		Usage:     "Decode an emitted trade event",
		ArgsUsage: "DATA",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "encoding",
				Aliases: []string{"e"},
				Usage:   "Byte encoding: hex, base64 or base58",
				Value:   "base64",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: encoded event")
			}
			data, err := decodeBytes(c.String("encoding"), c.Args().First())
			if err != nil {
				return err
			}

			event, err := codec.DecodeEvent(data)
			if err != nil {
				return err
			}

			fields := map[string]interface{}{"event_type": event.EventName()}
			switch e := event.(type) {
			case codec.FlashloanEvent:
				fields["borrower"] = e.Borrower.String()
				fields["amount"] = e.Amount
			case codec.TradeActionEvent:
				fields["action_type"] = e.Action.String()
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, fields)
			}
			printFields(c.App.Writer, fields)
			return nil
		},
	}
}

func amountArg(c *cli.Context) (uint64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("requires exactly one argument: amount")
	}
	amount, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", c.Args().First(), err)
	}
	return amount, nil
}

func printEncoded(c *cli.Context, data []byte) error {
	s, err := encodeBytes(c.String("encoding"), data)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return outputJSON(c.App.Writer, map[string]interface{}{
			"encoding": c.String("encoding"),
			"data":     s,
			"length":   len(data),
		})
	}
	fmt.Fprintln(c.App.Writer, s)
	return nil
}

func printFields(w io.Writer, fields map[string]interface{}) {
	for _, k := range []string{"kind", "event_type", "opcode", "actions", "action_type", "borrower", "amount"} {
		v, ok := fields[k]
		if !ok {
			continue
		}
		if list, ok := v.([]string); ok {
			v = strings.Join(list, ", ")
		}
		fmt.Fprintf(w, "%-12s %v\n", k+":", v)
	}
}
