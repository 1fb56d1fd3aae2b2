package settings

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxStage is the highest dunning escalation stage.
const MaxStage = 3

// DefaultTermDays applies when no payment term is configured for a stage.
const DefaultTermDays = 7

// DunningSettings holds fees, payment terms and texts per dunning stage.
// Index 0 of each array belongs to stage 1.
type DunningSettings struct {
	ID           string                    `json:"id,omitempty"`
	Fees         [MaxStage]decimal.Decimal `json:"fees"`
	TermDays     [MaxStage]int             `json:"term_days"`
	InterestRate decimal.Decimal           `json:"interest_rate"`
	Texts        [MaxStage]string          `json:"texts"`
	Active       bool                      `json:"active"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// Defaults returns the built-in values used when no active record exists.
func Defaults() DunningSettings {
	return DunningSettings{
		Fees: [MaxStage]decimal.Decimal{
			decimal.RequireFromString("5.00"),
			decimal.RequireFromString("15.00"),
			decimal.RequireFromString("25.00"),
		},
		TermDays:     [MaxStage]int{DefaultTermDays, DefaultTermDays, DefaultTermDays},
		InterestRate: decimal.Zero,
	}
}

// ValidStage reports whether stage is within 1..MaxStage.
func ValidStage(stage int) bool {
	return stage >= 1 && stage <= MaxStage
}

// FeeFor returns the dunning fee for stage.
func (s DunningSettings) FeeFor(stage int) decimal.Decimal {
	if !ValidStage(stage) {
		return decimal.Zero
	}
	return s.Fees[stage-1]
}

// TermFor returns the payment term in days for stage.
func (s DunningSettings) TermFor(stage int) int {
	if !ValidStage(stage) || s.TermDays[stage-1] <= 0 {
		return DefaultTermDays
	}
	return s.TermDays[stage-1]
}

// TextFor returns the configured notice text for stage, empty when the built-in template applies.
func (s DunningSettings) TextFor(stage int) string {
	if !ValidStage(stage) {
		return ""
	}
	return strings.TrimSpace(s.Texts[stage-1])
}
