package tp_sl

import (
	"testing"

	"traderobot/src/model"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(mode model.TrailMode, sl, peak string, stage int) model.Trade {
	return model.Trade{
		TrailMode:        mode,
		StopLoss:         d(sl),
		OriginalStopLoss: d("800"),
		HighestProfit:    d(peak),
		TrailStage:       stage,
	}
}

func TestComputeNextStopLoss_NoTrail(t *testing.T) {
	sl, stage, moved := ComputeNextStopLoss(DefaultPolicy(), trade(model.TrailNone, "800", "5000", 0))
	if moved || stage != 0 {
		t.Fatalf("expected no change, got moved=%v stage=%d", moved, stage)
	}
	if !sl.Equal(d("800")) {
		t.Fatalf("expected sl unchanged, got=%s", sl.String())
	}
}

func TestComputeNextStopLoss_BelowFirstThreshold(t *testing.T) {
	sl, stage, moved := ComputeNextStopLoss(DefaultPolicy(), trade(model.TrailPercent, "800", "399.99", 0))
	if moved || stage != 0 || !sl.Equal(d("800")) {
		t.Fatalf("expected untouched stop, got sl=%s stage=%d moved=%v", sl, stage, moved)
	}
}

func TestComputeNextStopLoss_PercentStages(t *testing.T) {
	p := DefaultPolicy()

	sl, stage, moved := ComputeNextStopLoss(p, trade(model.TrailPercent, "800", "400", 0))
	if !moved || stage != 1 || !sl.Equal(d("400")) {
		t.Fatalf("stage 1: got sl=%s stage=%d moved=%v", sl, stage, moved)
	}

	// same peak again: the threshold was already applied
	sl, stage, moved = ComputeNextStopLoss(p, trade(model.TrailPercent, "400", "450", 1))
	if moved || stage != 1 || !sl.Equal(d("400")) {
		t.Fatalf("repeat: got sl=%s stage=%d moved=%v", sl, stage, moved)
	}

	sl, stage, moved = ComputeNextStopLoss(p, trade(model.TrailPercent, "400", "600", 1))
	if !moved || stage != 2 || !sl.Equal(d("200")) {
		t.Fatalf("stage 2: got sl=%s stage=%d moved=%v", sl, stage, moved)
	}
}

func TestComputeNextStopLoss_PercentLevel(t *testing.T) {
	p := DefaultPolicy()

	tr := trade(model.TrailPercent, "800", "400", 0)
	tr.TrailLevel = d("0.75")
	sl, stage, moved := ComputeNextStopLoss(p, tr)
	if !moved || stage != 1 || !sl.Equal(d("200")) {
		t.Fatalf("75%% stage 1: got sl=%s stage=%d moved=%v", sl, stage, moved)
	}

	tr = trade(model.TrailPercent, "200", "600", 1)
	tr.TrailLevel = d("0.75")
	sl, stage, moved = ComputeNextStopLoss(p, tr)
	if !moved || stage != 2 || !sl.Equal(d("100")) {
		t.Fatalf("75%% stage 2: got sl=%s stage=%d moved=%v", sl, stage, moved)
	}

	tr = trade(model.TrailPercent, "800", "400", 0)
	tr.TrailLevel = d("0.5")
	sl, _, _ = ComputeNextStopLoss(p, tr)
	if !sl.Equal(d("400")) {
		t.Fatalf("50%% stage 1: got sl=%s", sl)
	}
}

func TestComputeNextStopLoss_CostJumpsStraightToBreakEven(t *testing.T) {
	sl, stage, moved := ComputeNextStopLoss(DefaultPolicy(), trade(model.TrailCost, "800", "700", 0))
	if !moved || stage != 2 || !sl.Equal(decimal.Zero) {
		t.Fatalf("got sl=%s stage=%d moved=%v", sl, stage, moved)
	}
}

func TestComputeNextStopLoss_NeverLoosens(t *testing.T) {
	// manual edit already tighter than the percent candidate
	tr := trade(model.TrailPercent, "150", "450", 0)
	sl, stage, moved := ComputeNextStopLoss(DefaultPolicy(), tr)
	if moved || !sl.Equal(d("150")) {
		t.Fatalf("expected stop to stay at 150, got=%s", sl)
	}
	if stage != 1 {
		t.Fatalf("threshold still counts as applied, got stage=%d", stage)
	}
}

func TestComputeNextStopLoss_AbsoluteLevel(t *testing.T) {
	tr := trade(model.TrailAbsolute, "800", "400", 0)
	tr.TrailLevel = d("300")
	sl, _, moved := ComputeNextStopLoss(DefaultPolicy(), tr)
	if !moved || !sl.Equal(d("300")) {
		t.Fatalf("got sl=%s moved=%v", sl, moved)
	}

	tr.TrailLevel = d("1000")
	sl, _, moved = ComputeNextStopLoss(DefaultPolicy(), tr)
	if moved || !sl.Equal(d("800")) {
		t.Fatalf("looser absolute level must be ignored, got sl=%s", sl)
	}
}
