package solana

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/brojonat/flashtrade/service/codec"
)

// programDataPrefix marks a log line carrying a base64 encoded event.
const programDataPrefix = "Program data: "

// ParseEventLogs extracts the trade events from transaction log lines, in
// emission order. Lines emitted by other programs with discriminators we do
// not know are skipped; malformed data for a known event is an error.
func ParseEventLogs(logs []string) ([]codec.Event, error) {
	var events []codec.Event
	for i, line := range logs {
		payload, ok := strings.CutPrefix(line, programDataPrefix)
		if !ok {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			return nil, fmt.Errorf("log line %d: invalid base64: %w", i, err)
		}
		event, err := codec.DecodeEvent(raw)
		if errors.Is(err, codec.ErrUnknownEvent) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("log line %d: %w", i, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// ProgramLogs returns the log lines that are not event data.
func ProgramLogs(logs []string) []string {
	out := make([]string, 0, len(logs))
	for _, line := range logs {
		if strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		out = append(out, line)
	}
	return out
}
