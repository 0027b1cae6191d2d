// Package eligibility applies the attestation eligibility rules to a scanned inventory.
package eligibility

import (
	"fmt"
	"time"

	"github.com/pilacorp/go-attestation-sdk/scanner"
)

// DefaultMinimumCount is the number of tokens a holder must own.
const DefaultMinimumCount = 10

// DefaultCutoff is the instant every token must have been minted before.
var DefaultCutoff = time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC)

// Diagnostics lists the token IDs that broke each rule.
type Diagnostics struct {
	// Count is the number of records found.
	Count int
	// MintedAfterCutoff holds tokens minted at or after the cutoff.
	MintedAfterCutoff []uint64
	// MissingMint holds tokens without a mint to the holder.
	MissingMint []uint64
	// Transferred holds tokens the holder sent onward.
	Transferred []uint64
}

// Verdict is the outcome of the three eligibility rules.
type Verdict struct {
	HasMinimumCount bool
	AllBeforeCutoff bool
	NoneTransferred bool
	Eligible        bool
	Inventory       scanner.Inventory
	Diagnostics     Diagnostics
	// MinimumCount and Cutoff are the rule parameters the verdict was computed with.
	MinimumCount int
	Cutoff       time.Time
}

// Summary returns one human readable line per rule.
func (v Verdict) Summary() []string {
	minimum, cutoff := v.MinimumCount, v.Cutoff
	lines := make([]string, 0, 3)

	if v.HasMinimumCount {
		lines = append(lines, fmt.Sprintf("owns at least %d tokens (%d found)", minimum, v.Diagnostics.Count))
	} else {
		lines = append(lines, fmt.Sprintf("owns fewer than %d tokens (%d found)", minimum, v.Diagnostics.Count))
	}

	if v.AllBeforeCutoff {
		lines = append(lines, fmt.Sprintf("all tokens minted before %s", cutoff.UTC().Format(time.RFC3339)))
	} else {
		lines = append(lines, fmt.Sprintf("tokens not minted before %s: %v, without mint record: %v",
			cutoff.UTC().Format(time.RFC3339), v.Diagnostics.MintedAfterCutoff, v.Diagnostics.MissingMint))
	}

	if v.NoneTransferred {
		lines = append(lines, "no token was transferred out")
	} else {
		lines = append(lines, fmt.Sprintf("tokens transferred out: %v", v.Diagnostics.Transferred))
	}

	return lines
}

// Engine evaluates inventories against a minimum count and a cutoff.
type Engine struct {
	MinimumCount int
	Cutoff       time.Time
}

// NewEngine returns an Engine with the default rules.
func NewEngine() Engine {
	return Engine{MinimumCount: DefaultMinimumCount, Cutoff: DefaultCutoff}
}

// Evaluate computes every rule over the whole inventory. No rule short-circuits another.
func (e Engine) Evaluate(inv scanner.Inventory) Verdict {
	d := Diagnostics{Count: len(inv.Records)}

	for _, rec := range inv.Records {
		switch {
		case rec.MintedAt == nil:
			d.MissingMint = append(d.MissingMint, rec.TokenID)
		case !rec.MintedAt.Before(e.Cutoff):
			d.MintedAfterCutoff = append(d.MintedAfterCutoff, rec.TokenID)
		}
		if rec.TransferredOut {
			d.Transferred = append(d.Transferred, rec.TokenID)
		}
	}

	v := Verdict{
		HasMinimumCount: d.Count >= e.MinimumCount,
		AllBeforeCutoff: len(d.MissingMint) == 0 && len(d.MintedAfterCutoff) == 0,
		NoneTransferred: len(d.Transferred) == 0,
		Inventory:       inv,
		Diagnostics:     d,
		MinimumCount:    e.MinimumCount,
		Cutoff:          e.Cutoff,
	}
	v.Eligible = v.HasMinimumCount && v.AllBeforeCutoff && v.NoneTransferred
	return v
}
