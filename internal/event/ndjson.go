package event

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/noctisids/noctis/internal/idserr"
)

// DecodeStream reads newline-delimited JSON PacketEvents from r, invoking fn
// for each one decoded. A malformed line is wrapped in a ParseError and
// passed to fn rather than aborting the stream, per §7: a bad input event is
// skipped and logged, not fatal.
func DecodeStream(r io.Reader, fn func(PacketEvent, error) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev PacketEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			if cbErr := fn(PacketEvent{}, &idserr.ParseError{Context: "ndjson packet event", Err: err}); cbErr != nil {
				return cbErr
			}
			continue
		}
		if ev.Direction == "" {
			ev.Direction = ClassifyDirection(ev.SrcIP, ev.DstIP)
		}
		if err := fn(ev, nil); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ndjson scan: %w", err)
	}
	return nil
}

// Encode writes a single PacketEvent as one NDJSON line.
func Encode(w io.Writer, ev PacketEvent) error {
	enc := json.NewEncoder(w)
	return enc.Encode(ev)
}
