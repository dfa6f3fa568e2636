// Package service implements the matching stage: scoring extracted document
// fields against candidate ledger transactions and deciding automatic match
// versus manual review.
package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ReceiptRadar/receipt-radar-backend/types"
	"github.com/agext/levenshtein"
	"github.com/shopspring/decimal"
)

// Factor weights. Vendor identity carries the most signal; date is weakest
// because card transactions post days after the receipt date.
const (
	vendorWeight   = 0.45
	amountWeight   = 0.35
	dateWeight     = 0.10
	currencyWeight = 0.10
)

// scoreAmountTolerance is the relative difference still considered a
// near-exact amount (rounding, tips, FX fluctuation). Much tighter than the
// candidate prefilter band in MatchingConfig.
const scoreAmountTolerance = 0.05

// scoreDateWindowDays is the posting delay window scored linearly. Much
// tighter than the candidate prefilter window in MatchingConfig.
const scoreDateWindowDays = 5

// scoreCandidate computes the per-factor and composite scores for one
// candidate transaction. All scores are deterministic integers in [0, 100].
func scoreCandidate(fields *types.ExtractedFields, txn *types.Transaction) (types.FactorScores, int, []string) {
	scores := types.FactorScores{
		Vendor:   scoreVendor(fields.Vendor, txn.Description),
		Amount:   scoreAmount(fields.Amount, txn.Amount),
		Date:     scoreDate(fields.TransactionDate, txn.Date),
		Currency: scoreCurrency(fields.Currency, txn.Currency),
	}

	weighted := float64(scores.Vendor)*vendorWeight +
		float64(scores.Amount)*amountWeight +
		float64(scores.Date)*dateWeight +
		float64(scores.Currency)*currencyWeight
	composite := int(math.Round(weighted))

	return scores, composite, matchReasons(scores)
}

// scoreVendor compares the extracted vendor name to the transaction
// description. Containment either way is a full match ("Blue Bottle" in
// "Blue Bottle Coffee"); otherwise normalized edit-distance similarity.
func scoreVendor(vendor *string, description string) int {
	if vendor == nil {
		return 0
	}
	v := strings.ToLower(strings.TrimSpace(*vendor))
	d := strings.ToLower(strings.TrimSpace(description))
	if v == "" || d == "" {
		return 0
	}
	if strings.Contains(d, v) || strings.Contains(v, d) {
		return 100
	}
	return int(math.Round(levenshtein.Similarity(v, d, nil) * 100))
}

// scoreAmount scores the relative difference between the extracted amount and
// the transaction amount: exact is 100, the tolerance band scores linearly
// down to 70, beyond that an exponential decay.
func scoreAmount(amount *decimal.Decimal, txnAmount decimal.Decimal) int {
	if amount == nil {
		return 0
	}
	if txnAmount.IsZero() {
		if amount.IsZero() {
			return 100
		}
		return 0
	}

	diff, _ := amount.Sub(txnAmount).Abs().Float64()
	base, _ := txnAmount.Abs().Float64()
	pd := diff / base

	if pd == 0 {
		return 100
	}
	if pd <= scoreAmountTolerance {
		return int(math.Round(100 - (pd/scoreAmountTolerance)*30))
	}
	return int(math.Round(70 * math.Exp(-pd*10)))
}

// scoreDate scores day proximity between the extracted date and the
// transaction date. A missing or unparseable date is neutral, not
// disqualifying.
func scoreDate(date *string, txnDate time.Time) int {
	if date == nil {
		return 50
	}
	docDate, err := time.Parse("2006-01-02", *date)
	if err != nil {
		return 50
	}

	days := math.Abs(docDate.Sub(txnDate).Hours() / 24)
	if days == 0 {
		return 100
	}
	if days <= scoreDateWindowDays {
		return int(math.Round(100 - (days/scoreDateWindowDays)*40))
	}
	return int(math.Round(60 * math.Exp(-days/30)))
}

func scoreCurrency(currency *string, txnCurrency string) int {
	if currency == nil || txnCurrency == "" {
		return 0
	}
	if strings.EqualFold(*currency, txnCurrency) {
		return 100
	}
	return 0
}

// matchReasons builds the human-readable explanation shown to reviewers.
func matchReasons(scores types.FactorScores) []string {
	var reasons []string

	if scores.Vendor >= 80 {
		reasons = append(reasons, "Strong vendor name match")
	} else if scores.Vendor >= 60 {
		reasons = append(reasons, "Partial vendor name match")
	}

	if scores.Amount >= 95 {
		reasons = append(reasons, "Exact amount match")
	} else if scores.Amount >= 70 {
		reasons = append(reasons, "Similar amount")
	}

	if scores.Date >= 90 {
		reasons = append(reasons, "Same date")
	} else if scores.Date >= 60 {
		reasons = append(reasons, fmt.Sprintf("Close date (within %d days)", scoreDateWindowDays))
	}

	if scores.Currency == 100 {
		reasons = append(reasons, "Currency match")
	}

	return reasons
}
