package eligibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pilacorp/go-attestation-sdk/scanner"
)

var cutoff = time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC)

func at(ts time.Time) *time.Time { return &ts }

func inventory(n int, mutate func(i int, r *scanner.TokenRecord)) scanner.Inventory {
	inv := scanner.Inventory{}
	for i := 0; i < n; i++ {
		r := scanner.TokenRecord{
			TokenID:  uint64(i + 1),
			MintedAt: at(cutoff.Add(-time.Duration(n-i) * 24 * time.Hour)),
		}
		if mutate != nil {
			mutate(i, &r)
		}
		inv.Records = append(inv.Records, r)
	}
	return inv
}

type rules struct{ count, cutoff, custody bool }

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		inv  scanner.Inventory
		want rules
	}{
		{
			name: "nine tokens before cutoff never transferred",
			inv:  inventory(9, nil),
			want: rules{count: false, cutoff: true, custody: true},
		},
		{
			name: "ten tokens one minted after cutoff",
			inv: inventory(10, func(i int, r *scanner.TokenRecord) {
				if i == 6 {
					r.MintedAt = at(cutoff.Add(time.Hour))
				}
			}),
			want: rules{count: true, cutoff: false, custody: true},
		},
		{
			name: "minted exactly at cutoff fails",
			inv: inventory(10, func(i int, r *scanner.TokenRecord) {
				if i == 0 {
					r.MintedAt = at(cutoff)
				}
			}),
			want: rules{count: true, cutoff: false, custody: true},
		},
		{
			name: "missing mint fails closed",
			inv: inventory(12, func(i int, r *scanner.TokenRecord) {
				if i == 11 {
					r.MintedAt = nil
				}
			}),
			want: rules{count: true, cutoff: false, custody: true},
		},
		{
			name: "transferred token",
			inv: inventory(10, func(i int, r *scanner.TokenRecord) {
				if i == 3 {
					r.TransferredOut = true
				}
			}),
			want: rules{count: true, cutoff: true, custody: false},
		},
		{
			name: "all rules fail independently",
			inv: inventory(3, func(i int, r *scanner.TokenRecord) {
				r.MintedAt = nil
				r.TransferredOut = true
			}),
			want: rules{},
		},
		{
			name: "eligible",
			inv:  inventory(15, nil),
			want: rules{count: true, cutoff: true, custody: true},
		},
		{
			name: "empty inventory",
			inv:  scanner.Inventory{},
			want: rules{count: false, cutoff: true, custody: true},
		},
	}

	engine := Engine{MinimumCount: 10, Cutoff: cutoff}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := engine.Evaluate(tt.inv)

			assert.Equal(t, tt.want.count, v.HasMinimumCount)
			assert.Equal(t, tt.want.cutoff, v.AllBeforeCutoff)
			assert.Equal(t, tt.want.custody, v.NoneTransferred)
			assert.Equal(t, v.HasMinimumCount && v.AllBeforeCutoff && v.NoneTransferred, v.Eligible)
			assert.Equal(t, tt.inv, v.Inventory)
			assert.Len(t, v.Summary(), 3)
		})
	}
}

func TestEvaluateDiagnostics(t *testing.T) {
	inv := inventory(10, func(i int, r *scanner.TokenRecord) {
		switch r.TokenID {
		case 2:
			r.MintedAt = nil
		case 5:
			r.MintedAt = at(cutoff.Add(24 * time.Hour))
			r.TransferredOut = true
		case 9:
			r.TransferredOut = true
		}
	})

	v := NewEngine().Evaluate(inv)
	assert.False(t, v.Eligible)
	assert.Equal(t, 10, v.Diagnostics.Count)
	assert.Equal(t, []uint64{2}, v.Diagnostics.MissingMint)
	assert.Equal(t, []uint64{5}, v.Diagnostics.MintedAfterCutoff)
	assert.Equal(t, []uint64{5, 9}, v.Diagnostics.Transferred)

	summary := v.Summary()
	assert.Contains(t, summary[0], "at least 10")
	assert.Contains(t, summary[1], "[5]")
	assert.Contains(t, summary[2], "[5 9]")
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine()
	assert.Equal(t, 10, e.MinimumCount)
	assert.True(t, e.Cutoff.Equal(cutoff))
}
