// Package relay drives the Arduino that switches the per-axis coil polarity.
//
// The relay speaks a newline-terminated text protocol: "set <code>" switches
// the relays and "get" reports them. Both answer with one line holding the
// current code, possibly with separators between the digits.
package relay

import (
	"context"
	"fmt"

	"github.com/banshee-data/helmholtz/internal/polarity"
)

// Querier sends one command line and returns the reply line.
// serialmux.SerialMuxInterface satisfies it.
type Querier interface {
	Query(ctx context.Context, command string) (string, error)
}

// Relay is the coil.Relay implementation for the Arduino relay board.
type Relay struct {
	link Querier
}

// New returns a Relay using link. Monitor must be running on the underlying
// mux for replies to arrive.
func New(link Querier) *Relay {
	return &Relay{link: link}
}

// SetPolarity switches the relays and returns the code the board reports.
func (r *Relay) SetPolarity(ctx context.Context, code polarity.Code) (polarity.Code, error) {
	if !code.Valid() {
		return "", fmt.Errorf("relay: invalid polarity code %q", code)
	}
	return r.query(ctx, "set "+string(code))
}

// Polarity reads the relays.
func (r *Relay) Polarity(ctx context.Context) (polarity.Code, error) {
	return r.query(ctx, "get")
}

func (r *Relay) query(ctx context.Context, command string) (polarity.Code, error) {
	line, err := r.link.Query(ctx, command)
	if err != nil {
		return "", fmt.Errorf("relay %q: %w", command, err)
	}
	code, err := polarity.Parse(line)
	if err != nil {
		return "", fmt.Errorf("relay %q: %w", command, err)
	}
	return code, nil
}
