package dunning

import (
	"context"
	"fmt"
)

// Numberer hands out monotonic, per-year dunning numbers. A number reserved
// for a notice that is never stored stays unused.
type Numberer struct {
	repo Repository
}

// NewNumberer constructs a Numberer backed by the repository counter.
func NewNumberer(repo Repository) *Numberer {
	return &Numberer{repo: repo}
}

// Next reserves the next number for year, e.g. M-2026-0001.
func (n *Numberer) Next(ctx context.Context, year int) (string, error) {
	seq, err := n.repo.NextSequence(ctx, year)
	if err != nil {
		return "", err
	}
	return FormatNumber(year, seq), nil
}

// FormatNumber renders a dunning number.
func FormatNumber(year, seq int) string {
	return fmt.Sprintf("M-%d-%04d", year, seq)
}
