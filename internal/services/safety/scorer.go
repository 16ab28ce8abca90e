// Package safety scores dividend sustainability and caches the scores per symbol
package safety

import (
	"fmt"
	"math"
	"sort"

	"github.com/bobmcallan/yieldwatch/internal/models"
)

// Factor weights; they sum to 1.
const (
	WeightPayoutRatio       = 0.25
	WeightFCFCoverage       = 0.25
	WeightDebtToEquity      = 0.20
	WeightDividendGrowth    = 0.15
	WeightEarningsStability = 0.15
)

// Scoring breakpoints. Each factor maps linearly between its best and worst value.
const (
	payoutBest, payoutWorst       = 0.40, 1.00
	coverageWorst, coverageBest   = 0.5, 2.5
	debtBest, debtWorst           = 0.5, 2.0
	stabilityBest, stabilityWorst = 0.1, 1.0
)

const warnInsufficientData = "insufficient data"

// Grade maps a 0-100 score to a letter grade.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A+"
	case score >= 80:
		return "A"
	case score >= 70:
		return "B"
	case score >= 60:
		return "C"
	case score >= 50:
		return "D"
	}
	return "F"
}

// RiskBucket classifies a score for portfolio risk distribution.
func RiskBucket(score float64) string {
	switch {
	case score <= 0:
		return models.RiskUnscored
	case score >= 70:
		return models.RiskLow
	case score >= 50:
		return models.RiskModerate
	}
	return models.RiskHigh
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// lowerIsBetter scores v as 100 at or below best and 0 at or above worst.
func lowerIsBetter(v, best, worst float64) float64 {
	return clamp((worst-v)/(worst-best)*100, 0, 100)
}

// higherIsBetter scores v as 0 at or below worst and 100 at or above best.
func higherIsBetter(v, worst, best float64) float64 {
	return clamp((v-worst)/(best-worst)*100, 0, 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Score computes the dividend-safety score for fin using at most
// lookbackYears periods of history. It never fails: factors that cannot be
// computed score 0 and add a warning. Series are expected most recent first.
func Score(fin *models.FinancialStatements, lookbackYears int) models.SafetyResult {
	if lookbackYears <= 0 {
		lookbackYears = 5
	}
	result := models.SafetyResult{
		Factors: models.SafetyFactors{
			PayoutRatio:       models.SafetyFactor{Weight: WeightPayoutRatio},
			FCFCoverage:       models.SafetyFactor{Weight: WeightFCFCoverage},
			DebtToEquity:      models.SafetyFactor{Weight: WeightDebtToEquity},
			DividendGrowth:    models.SafetyFactor{Weight: WeightDividendGrowth},
			EarningsStability: models.SafetyFactor{Weight: WeightEarningsStability},
		},
		Warnings: []string{},
	}
	if fin != nil {
		result.Symbol = fin.Symbol
	}
	if fin.IsEmpty() {
		result.Grade = models.GradeNotAvailable
		result.Warnings = append(result.Warnings, warnInsufficientData)
		return result
	}

	f := &result.Factors
	warn := func(format string, args ...any) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	// payout ratio: dividends paid / net income, latest period
	switch {
	case len(fin.Income) == 0 || len(fin.CashFlow) == 0:
		warn("payout ratio: missing income or cash-flow statement")
	case fin.Income[0].NetIncome <= 0:
		warn("payout ratio: net income is not positive (%.0f)", fin.Income[0].NetIncome)
	default:
		ratio := fin.CashFlow[0].DividendsPaid / fin.Income[0].NetIncome
		f.PayoutRatio.Value = ratio
		f.PayoutRatio.Score = lowerIsBetter(ratio, payoutBest, payoutWorst)
		f.PayoutRatio.Computable = true
	}

	// free-cash-flow coverage: free cash flow / dividends paid, latest period
	switch {
	case len(fin.CashFlow) == 0:
		warn("fcf coverage: missing cash-flow statement")
	case fin.CashFlow[0].DividendsPaid <= 0:
		warn("fcf coverage: no dividends paid in latest period")
	default:
		coverage := fin.CashFlow[0].FreeCashFlow / fin.CashFlow[0].DividendsPaid
		f.FCFCoverage.Value = coverage
		f.FCFCoverage.Score = higherIsBetter(coverage, coverageWorst, coverageBest)
		f.FCFCoverage.Computable = true
	}

	// debt to equity, latest period
	switch {
	case len(fin.Balance) == 0:
		warn("debt to equity: missing balance sheet")
	case fin.Balance[0].ShareholderEquity <= 0:
		warn("debt to equity: shareholder equity is not positive (%.0f)", fin.Balance[0].ShareholderEquity)
	case fin.Balance[0].TotalDebt < 0:
		warn("debt to equity: negative total debt")
	default:
		de := fin.Balance[0].TotalDebt / fin.Balance[0].ShareholderEquity
		f.DebtToEquity.Value = de
		f.DebtToEquity.Score = lowerIsBetter(de, debtBest, debtWorst)
		f.DebtToEquity.Computable = true
	}

	// dividend growth consistency: share of year-over-year steps that did not decrease
	periods := append([]models.DividendPeriod(nil), fin.Dividends...)
	sort.SliceStable(periods, func(i, j int) bool { return periods[i].Year > periods[j].Year })
	if len(periods) > lookbackYears+1 {
		periods = periods[:lookbackYears+1]
	}
	if len(periods) < 2 {
		warn("dividend growth: fewer than two years of dividend history")
	} else {
		steps, held := 0, 0
		for i := 0; i+1 < len(periods); i++ {
			steps++
			if periods[i].PerShare >= periods[i+1].PerShare {
				held++
			}
		}
		fraction := float64(held) / float64(steps)
		f.DividendGrowth.Value = fraction
		f.DividendGrowth.Score = clamp(fraction*100, 0, 100)
		f.DividendGrowth.Computable = true
	}

	// earnings stability: coefficient of variation of net income
	incomes := fin.Income
	if len(incomes) > lookbackYears {
		incomes = incomes[:lookbackYears]
	}
	if len(incomes) < 2 {
		warn("earnings stability: fewer than two periods of net income")
	} else {
		var sum float64
		for _, inc := range incomes {
			sum += inc.NetIncome
		}
		mean := sum / float64(len(incomes))
		if mean <= 0 {
			warn("earnings stability: average net income is not positive")
		} else {
			var sq float64
			for _, inc := range incomes {
				sq += (inc.NetIncome - mean) * (inc.NetIncome - mean)
			}
			cv := math.Sqrt(sq/float64(len(incomes))) / mean
			f.EarningsStability.Value = cv
			f.EarningsStability.Score = lowerIsBetter(cv, stabilityBest, stabilityWorst)
			f.EarningsStability.Computable = true
		}
	}

	computable := false
	var total float64
	for _, factor := range []models.SafetyFactor{f.PayoutRatio, f.FCFCoverage, f.DebtToEquity, f.DividendGrowth, f.EarningsStability} {
		total += factor.Weight * factor.Score
		computable = computable || factor.Computable
	}
	if !computable {
		result.Grade = models.GradeNotAvailable
		result.Warnings = append(result.Warnings, warnInsufficientData)
		return result
	}

	result.Score = round2(clamp(total, 0, 100))
	result.Grade = Grade(result.Score)
	return result
}
