// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ctropt

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApproximateHourDistributionInterpolates(t *testing.T) {
	require := require.New(t)
	o := New(Options{})

	sparse := HourAmounts{
		2: dec("10"),
		6: dec("30"),
	}
	dense := o.approximateHourAmountDistribution(sparse)

	// Known buckets are kept.
	require.True(dense[2].Equal(dec("10")))
	require.True(dense[6].Equal(dec("30")))

	// Interior hours are linearly interpolated.
	require.True(dense[3].Equal(dec("15")))
	require.True(dense[4].Equal(dec("20")))
	require.True(dense[5].Equal(dec("25")))

	// Edges extend flat.
	require.True(dense[0].Equal(dec("10")))
	require.True(dense[1].Equal(dec("10")))
	require.True(dense[23].Equal(dec("30")))
}

func TestApproximateHourDistributionEmpty(t *testing.T) {
	require := require.New(t)
	o := New(Options{})

	dense := o.approximateHourAmountDistribution(HourAmounts{})
	require.True(dense.Total().IsZero())
}

func TestPlanFreeBudgetUniformFallback(t *testing.T) {
	require := require.New(t)
	o := New(Options{})

	plan := o.planFreeBudgetDistribution(dec("48"), 0, HourBudgetDistribution{})
	require.True(plan.Total().Equal(dec("48")))
	require.True(plan[0].Equal(dec("2")))
	require.True(plan[12].Equal(dec("2")))
}

func TestPlanFreeBudgetFollowsLoadShape(t *testing.T) {
	require := require.New(t)
	o := New(Options{})

	var shape HourBudgetDistribution
	shape[0] = dec("1")
	shape[1] = dec("3")

	plan := o.planFreeBudgetDistribution(dec("100"), 0, shape)
	require.True(plan[0].Equal(dec("25")))
	require.True(plan[1].Equal(dec("75")))
	// The plan sums exactly to the budget.
	require.True(plan.Total().Equal(dec("100")))
}

func TestPlanFreeBudgetRemainingHoursOnly(t *testing.T) {
	require := require.New(t)
	o := New(Options{})

	plan := o.planFreeBudgetDistribution(dec("40"), 20, HourBudgetDistribution{})
	require.True(plan[19].IsZero())
	require.True(plan[20].Equal(dec("10")))
	require.True(plan.Total().Equal(dec("40")))
}

func TestUnderdeliveryShiftBounded(t *testing.T) {
	require := require.New(t)
	o := New(Options{MaxUnderdeliveryCoef: dec("0.5")})

	var plan HourBudgetDistribution
	for h := 0; h < HoursPerDay; h++ {
		plan[h] = dec("10")
	}
	// Hour 0 delivered nothing: only half its plan may be carried forward.
	var actual HourBudgetDistribution

	adjusted := o.evalActualFreeBudgetDistribution(plan, actual, 1)
	require.True(adjusted[0].IsZero())
	// 23 remaining hours share the capped 5 proportionally.
	carriedTotal := adjusted.TailTotal(1).Sub(dec("230"))
	require.True(carriedTotal.Equal(dec("5")))
}

func TestOverdeliveryReducesFutureHours(t *testing.T) {
	require := require.New(t)
	o := New(Options{})

	var plan, actual HourBudgetDistribution
	for h := 0; h < HoursPerDay; h++ {
		plan[h] = dec("10")
	}
	actual[0] = dec("33")

	adjusted := o.evalActualFreeBudgetDistribution(plan, actual, 1)
	require.True(adjusted.TailTotal(1).Equal(dec("207")))
}

func TestGoalRateFitsBudget(t *testing.T) {
	require := require.New(t)
	o := New(Options{MaxGoalCorrectCoef: dec("1")})

	history := make(RateAmounts)
	for h := 0; h < HoursPerDay; h++ {
		history.Add(dec("0.05"), h, dec("2"))
		history.Add(dec("0.01"), h, dec("50"))
	}

	in := RateGoalInput{
		YesterdayGoaled: history,
		TodayGoaled:     make(RateAmounts),
		YesterdayFree:   make(HourAmounts),
		TodayFree:       make(HourAmounts),
		TodayBudget:     dec("100"),
		Hour:            0,
	}
	res := o.RecalculateRateGoal(in)

	// Only the 0.05 bucket (48/day) fits into 100; adding 0.01 would not.
	require.True(res.GoalRate.Equal(dec("0.05")))
	require.True(RestrictedAmount(history, res.GoalRate).LessThanOrEqual(dec("100")))
}

func TestGoalRateZeroBudgetRejectsAll(t *testing.T) {
	require := require.New(t)
	o := New(Options{})

	in := RateGoalInput{
		YesterdayGoaled: make(RateAmounts),
		TodayGoaled:     make(RateAmounts),
		YesterdayFree:   make(HourAmounts),
		TodayFree:       make(HourAmounts),
		TodayBudget:     decimal.Zero,
		Hour:            12,
	}
	res := o.RecalculateRateGoal(in)
	require.True(res.GoalRate.Equal(RejectAllRate))
	require.True(res.FreePlan.Total().IsZero())
}

func TestGoalRateExhaustedBudgetRejectsAll(t *testing.T) {
	require := require.New(t)
	o := New(Options{})

	today := make(RateAmounts)
	today.Add(dec("0.1"), 3, dec("100"))

	in := RateGoalInput{
		YesterdayGoaled: make(RateAmounts),
		TodayGoaled:     today,
		YesterdayFree:   make(HourAmounts),
		TodayFree:       make(HourAmounts),
		TodayBudget:     dec("100"),
		Hour:            4,
	}
	res := o.RecalculateRateGoal(in)
	require.True(res.GoalRate.Equal(RejectAllRate))
}

func TestGoalRateEmptyHistoryAdmitsAll(t *testing.T) {
	require := require.New(t)
	o := New(Options{})

	in := RateGoalInput{
		YesterdayGoaled: make(RateAmounts),
		TodayGoaled:     make(RateAmounts),
		YesterdayFree:   make(HourAmounts),
		TodayFree:       make(HourAmounts),
		TodayBudget:     dec("100"),
		Hour:            0,
	}
	res := o.RecalculateRateGoal(in)
	require.True(res.GoalRate.IsZero())

	// Against a uniform synthetic distribution the admitted spend still
	// fits the daily budget.
	synthetic := make(RateAmounts)
	for h := 0; h < HoursPerDay; h++ {
		synthetic.Add(dec("0.02"), h, dec("4"))
	}
	require.True(RestrictedAmount(synthetic, res.GoalRate).LessThanOrEqual(dec("100")))

	// With no goaled projection, the free plan paces the whole budget.
	require.True(res.FreePlan.Total().Equal(dec("100")))
}

func TestRestrictedAmount(t *testing.T) {
	require := require.New(t)

	dist := make(RateAmounts)
	dist.Add(dec("0.1"), 0, dec("10"))
	dist.Add(dec("0.05"), 0, dec("20"))
	dist.Add(dec("0.01"), 0, dec("40"))

	require.True(RestrictedAmount(dist, dec("0.05")).Equal(dec("30")))
	require.True(RestrictedAmount(dist, dec("0.2")).IsZero())
	require.True(RestrictedAmount(dist, decimal.Zero).Equal(dec("70")))
}

func TestRateKeyQuantizes(t *testing.T) {
	require := require.New(t)
	require.Equal(RateKey(dec("0.12344")), RateKey(dec("0.12336")))
	require.NotEqual(RateKey(dec("0.1234")), RateKey(dec("0.1235")))
}
