// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ctropt implements the CTR-goal pacing algorithm: it converts
// sparse historical and intraday delivery curves into an hour-by-hour
// free-budget plan and a minimum-CTR admission threshold.
package ctropt

import (
	"github.com/shopspring/decimal"
)

// RejectAllRate is the goal rate returned when no CTR-optimized spend can be
// admitted. A predicted CTR is a probability in [0,1], so no bid reaches it.
var RejectAllRate = decimal.NewFromInt(2)

var (
	defaultMaxUnderdeliveryCoef = decimal.RequireFromString("0.5")
	defaultMaxGoalCorrectCoef   = decimal.RequireFromString("1.1")
)

// Options tunes the optimizer.
type Options struct {
	// MaxUnderdeliveryCoef bounds how much of a past hour's unfilled plan
	// may be carried into future hours, as a fraction of that hour's plan.
	MaxUnderdeliveryCoef decimal.Decimal

	// MaxGoalCorrectCoef is the headroom multiplier applied to the
	// remaining budget when fitting the goal rate.
	MaxGoalCorrectCoef decimal.Decimal

	// BasicLoadDistribution is the historical load shape used to pace
	// the free budget. When nil, yesterday's observed free spend is used,
	// falling back to a uniform split.
	BasicLoadDistribution *HourBudgetDistribution
}

// CTROptimizer computes goal CTR rates and free-budget pacing plans.
// It holds only tunable coefficients and is safe for concurrent use.
type CTROptimizer struct {
	maxUnderdeliveryCoef decimal.Decimal
	maxGoalCorrectCoef   decimal.Decimal
	basicLoad            *HourBudgetDistribution
}

// New creates an optimizer, applying defaults for unset coefficients.
func New(opts Options) *CTROptimizer {
	o := &CTROptimizer{
		maxUnderdeliveryCoef: opts.MaxUnderdeliveryCoef,
		maxGoalCorrectCoef:   opts.MaxGoalCorrectCoef,
		basicLoad:            opts.BasicLoadDistribution,
	}
	if o.maxUnderdeliveryCoef.IsZero() {
		o.maxUnderdeliveryCoef = defaultMaxUnderdeliveryCoef
	}
	if o.maxGoalCorrectCoef.IsZero() {
		o.maxGoalCorrectCoef = defaultMaxGoalCorrectCoef
	}
	return o
}

// RateGoalInput carries the delivery history and budget state for one CCG.
// Hours are in the entity's local day, per its time offset.
type RateGoalInput struct {
	YesterdayGoaled RateAmounts
	TodayGoaled     RateAmounts
	YesterdayFree   HourAmounts
	TodayFree       HourAmounts

	// TodayBudget is the CCG's full daily budget for the current day.
	TodayBudget decimal.Decimal

	// Hour is the current hour in the entity's local day, [0,23].
	Hour int
}

// RateGoalResult is the computed pacing decision.
type RateGoalResult struct {
	// GoalRate is the minimum predicted CTR admitted into the
	// CTR-optimized spend pool.
	GoalRate decimal.Decimal

	// FreePlan is the spend allowance per remaining hour for the
	// non-optimized pool. Past hours are zero.
	FreePlan HourBudgetDistribution
}

// RecalculateRateGoal runs the full pacing pipeline.
func (o *CTROptimizer) RecalculateRateGoal(in RateGoalInput) RateGoalResult {
	hour := in.Hour
	if hour < 0 {
		hour = 0
	}
	if hour >= HoursPerDay {
		hour = HoursPerDay - 1
	}

	spentGoaled := in.TodayGoaled.Total()
	spentFree := in.TodayFree.Total()
	remaining := in.TodayBudget.Sub(spentGoaled).Sub(spentFree)

	if !in.TodayBudget.IsPositive() || !remaining.IsPositive() {
		return RateGoalResult{GoalRate: RejectAllRate}
	}

	goaledEstimate := o.approximateRateAmountDistribution(in.YesterdayGoaled)
	freeEstimate := o.approximateHourAmountDistribution(in.YesterdayFree)

	goalRate, projectedGoaled := o.evalGoalRate(
		in.YesterdayGoaled, goaledEstimate, hour,
		remaining.Mul(o.maxGoalCorrectCoef))

	// The free pool paces whatever the goaled pool is not projected to use.
	freeBudget := remaining.Sub(projectedGoaled)
	if freeBudget.IsNegative() {
		freeBudget = decimal.Zero
	}

	shape := o.loadShape(freeEstimate)
	plan := o.planFreeBudgetDistribution(freeBudget.Add(spentFree), 0, shape)
	plan = o.evalActualFreeBudgetDistribution(plan,
		o.approximateHourAmountDistribution(in.TodayFree), hour)

	return RateGoalResult{GoalRate: goalRate, FreePlan: plan}
}

// approximateHourAmountDistribution fills gaps in a sparse per-hour history
// by linear interpolation between the nearest known buckets, extending flat
// at the edges. An empty input yields all zeros.
func (o *CTROptimizer) approximateHourAmountDistribution(sparse HourAmounts) HourBudgetDistribution {
	var dense HourBudgetDistribution
	if len(sparse) == 0 {
		return dense
	}

	prev := -1
	for hour := 0; hour < HoursPerDay; hour++ {
		if _, ok := sparse[hour]; !ok {
			continue
		}
		dense[hour] = sparse[hour]
		if prev == -1 {
			for h := 0; h < hour; h++ {
				dense[h] = sparse[hour]
			}
		} else {
			o.approximateHourLineary(&dense, prev, hour)
		}
		prev = hour
	}
	for h := prev + 1; h < HoursPerDay; h++ {
		dense[h] = dense[prev]
	}
	return dense
}

// approximateHourLineary interpolates the open interval (from, to) between
// two known hour buckets.
func (o *CTROptimizer) approximateHourLineary(dense *HourBudgetDistribution, from, to int) {
	span := decimal.NewFromInt(int64(to - from))
	step := dense[to].Sub(dense[from]).Div(span)
	for h := from + 1; h < to; h++ {
		dense[h] = dense[from].Add(step.Mul(decimal.NewFromInt(int64(h - from))))
	}
}

// approximateRateAmountDistribution applies the hour approximation per
// rate bucket.
func (o *CTROptimizer) approximateRateAmountDistribution(sparse RateAmounts) map[string]HourBudgetDistribution {
	dense := make(map[string]HourBudgetDistribution, len(sparse))
	for key, hours := range sparse {
		dense[key] = o.approximateHourAmountDistribution(hours)
	}
	return dense
}

// loadShape picks the reference load distribution for free budget pacing.
func (o *CTROptimizer) loadShape(yesterdayFree HourBudgetDistribution) HourBudgetDistribution {
	if o.basicLoad != nil && o.basicLoad.Total().IsPositive() {
		return *o.basicLoad
	}
	return yesterdayFree
}

// planFreeBudgetDistribution spreads budget over hours >= fromHour
// proportionally to the load shape, or uniformly when the shape carries no
// signal. The last planned hour absorbs division remainder so the plan sums
// exactly to the budget.
func (o *CTROptimizer) planFreeBudgetDistribution(
	budget decimal.Decimal,
	fromHour int,
	shape HourBudgetDistribution,
) HourBudgetDistribution {
	var plan HourBudgetDistribution
	if !budget.IsPositive() {
		return plan
	}

	shapeTail := shape.TailTotal(fromHour)
	allocated := decimal.Zero
	last := HoursPerDay - 1

	if shapeTail.IsPositive() {
		for hour := fromHour; hour < last; hour++ {
			plan[hour] = budget.Mul(shape[hour]).Div(shapeTail)
			allocated = allocated.Add(plan[hour])
		}
	} else {
		per := budget.Div(decimal.NewFromInt(int64(HoursPerDay - fromHour)))
		for hour := fromHour; hour < last; hour++ {
			plan[hour] = per
			allocated = allocated.Add(per)
		}
	}
	plan[last] = budget.Sub(allocated)
	return plan
}

// evalActualFreeBudgetDistribution reconciles the plan with actual intraday
// consumption: each past hour's delivery delta is shifted into the remaining
// hours, with carried underdelivery capped per hour so one bad hour cannot
// cancel the rest of the day's pacing.
func (o *CTROptimizer) evalActualFreeBudgetDistribution(
	plan HourBudgetDistribution,
	actual HourBudgetDistribution,
	hour int,
) HourBudgetDistribution {
	carry := decimal.Zero
	for h := 0; h < hour; h++ {
		delta := plan[h].Sub(actual[h])
		if delta.IsPositive() {
			limit := plan[h].Mul(o.maxUnderdeliveryCoef)
			if delta.GreaterThan(limit) {
				delta = limit
			}
		}
		carry = carry.Add(delta)
		plan[h] = decimal.Zero
	}
	if carry.IsZero() || hour >= HoursPerDay {
		return plan
	}

	// The last hour absorbs division remainder so the shifted plan still
	// sums exactly.
	last := HoursPerDay - 1
	shifted := decimal.Zero
	tail := plan.TailTotal(hour)
	if tail.IsPositive() {
		for h := hour; h < last; h++ {
			share := carry.Mul(plan[h]).Div(tail)
			plan[h] = plan[h].Add(share)
			shifted = shifted.Add(share)
		}
	} else if carry.IsPositive() {
		per := carry.Div(decimal.NewFromInt(int64(HoursPerDay - hour)))
		for h := hour; h < last; h++ {
			plan[h] = per
			shifted = shifted.Add(per)
		}
	} else {
		return plan
	}
	plan[last] = plan[last].Add(carry.Sub(shifted))
	if plan[last].IsNegative() {
		plan[last] = decimal.Zero
	}
	for h := hour; h < last; h++ {
		if plan[h].IsNegative() {
			plan[h] = decimal.Zero
		}
	}
	return plan
}

// evalGoalRate walks rate buckets from the highest CTR downward, accumulating
// the projected spend of admitting each bucket for the rest of the day, and
// returns the lowest rate that still fits the budget together with the
// projection at that rate. With no history there is nothing to fit against
// and every rate is admitted.
func (o *CTROptimizer) evalGoalRate(
	history RateAmounts,
	estimate map[string]HourBudgetDistribution,
	hour int,
	budget decimal.Decimal,
) (decimal.Decimal, decimal.Decimal) {
	rates := sortedRatesDesc(history)
	if len(rates) == 0 {
		return decimal.Zero, decimal.Zero
	}

	cumulative := decimal.Zero
	goal := RejectAllRate
	for _, rate := range rates {
		tail := estimate[RateKey(rate)].TailTotal(hour)
		if cumulative.Add(tail).GreaterThan(budget) {
			break
		}
		cumulative = cumulative.Add(tail)
		goal = rate
	}
	if goal.Equal(RejectAllRate) {
		return RejectAllRate, decimal.Zero
	}
	return goal, cumulative
}
