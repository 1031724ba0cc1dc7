package tp_sl

import (
	"traderobot/src/model"

	"github.com/shopspring/decimal"
)

// Policy holds the profit thresholds, as fractions of the original stop-loss,
// at which a trailing stop tightens.
type Policy struct {
	FirstStep  decimal.Decimal
	SecondStep decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		FirstStep:  decimal.NewFromFloat(0.5),
		SecondStep: decimal.NewFromFloat(0.75),
	}
}

var (
	one  = decimal.NewFromInt(1)
	half = decimal.NewFromFloat(0.5)
)

// stageFor returns how many thresholds peakProfit has crossed (0, 1 or 2).
func (p Policy) stageFor(original, peakProfit decimal.Decimal) int {
	if !original.IsPositive() || !peakProfit.IsPositive() {
		return 0
	}
	switch {
	case peakProfit.GreaterThanOrEqual(original.Mul(p.SecondStep)):
		return 2
	case peakProfit.GreaterThanOrEqual(original.Mul(p.FirstStep)):
		return 1
	default:
		return 0
	}
}

// candidate is the stop-loss a mode asks for at a given stage.
//
// percent:  stage 1 -> (1 - level) of the original, stage 2 -> half of that
// cost:     stage 1 -> 50% of the original, stage 2 -> 0 (exit at break-even)
// absolute: any stage -> the configured level
func candidate(mode model.TrailMode, level, original decimal.Decimal, stage int) (decimal.Decimal, bool) {
	switch mode {
	case model.TrailPercent:
		if !level.IsPositive() || !level.LessThan(one) {
			level = model.DefaultTrailPercent
		}
		kept := original.Mul(one.Sub(level))
		if stage >= 2 {
			return kept.Mul(half), true
		}
		return kept, true
	case model.TrailCost:
		if stage >= 2 {
			return decimal.Zero, true
		}
		return original.Mul(half), true
	case model.TrailAbsolute:
		if !level.IsPositive() {
			return decimal.Zero, false
		}
		return level, true
	default:
		return decimal.Zero, false
	}
}

// ComputeNextStopLoss applies the trailing rule for t once per newly crossed threshold.
//
// - gate: the trade's peak profit must cross a threshold not yet applied (t.TrailStage)
// - update: SL = min(SL, candidate), so the stop only tightens
//
// The returned stage is always at least t.TrailStage; moved reports whether SL changed.
func ComputeNextStopLoss(p Policy, t model.Trade) (newSL decimal.Decimal, stage int, moved bool) {
	if t.TrailMode == model.TrailNone || t.TrailMode == "" {
		return t.StopLoss, t.TrailStage, false
	}
	original := t.OriginalStopLoss
	if !original.IsPositive() {
		original = t.StopLoss
	}

	target := p.stageFor(original, t.HighestProfit)
	if target <= t.TrailStage {
		return t.StopLoss, t.TrailStage, false
	}

	next, ok := candidate(t.TrailMode, t.TrailLevel, original, target)
	if !ok || !next.LessThan(t.StopLoss) {
		return t.StopLoss, target, false
	}
	return model.Money(next), target, true
}
