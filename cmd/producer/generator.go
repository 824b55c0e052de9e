package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ttd2089/ring-staging-poc/internal/messages"
)

const (
	formatJSON = "json"
	formatLine = "line"
)

var readingKinds = []string{
	"temperature",
	"pressure",
	"humidity",
}

// A generator produces synthetic telemetry payloads for a fixed set of sensors. Payloads
// shorter than padTo are padded with spaces, which lets a run push the stager's buffer
// towards its overwrite and reject paths with fewer messages.
type generator struct {
	sensors []string
	format  string
	padTo   int
	rng     *rand.Rand
}

func newGenerator(sensors int, format string, padTo int, rng *rand.Rand) (*generator, error) {
	if sensors <= 0 {
		return nil, fmt.Errorf("sensor count must be positive, got %d", sensors)
	}
	if format != formatJSON && format != formatLine {
		return nil, fmt.Errorf("unknown payload format %q", format)
	}
	ids := make([]string, sensors)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	return &generator{
		sensors: ids,
		format:  format,
		padTo:   padTo,
		rng:     rng,
	}, nil
}

// Next returns a payload for a reading taken at now.
func (g *generator) Next(now time.Time) ([]byte, error) {
	reading := messages.Reading{
		SensorID: g.sensors[g.rng.Intn(len(g.sensors))],
		Kind:     readingKinds[g.rng.Intn(len(readingKinds))],
		Value:    g.rng.NormFloat64()*5 + 20,
		UnixNano: now.UnixNano(),
	}

	var payload []byte
	switch g.format {
	case formatLine:
		payload = []byte(fmt.Sprintf("%s,sensor=%s value=%s %d",
			reading.Kind,
			reading.SensorID,
			strconv.FormatFloat(reading.Value, 'f', -1, 64),
			reading.UnixNano))
	default:
		var err error
		if payload, err = json.Marshal(reading); err != nil {
			return nil, fmt.Errorf("marshal reading: %w", err)
		}
	}

	if pad := g.padTo - len(payload); pad > 0 {
		payload = append(payload, bytes.Repeat([]byte{' '}, pad)...)
	}
	if g.format == formatLine {
		payload = append(payload, '\n')
	}
	return payload, nil
}
