// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ctropt

import (
	"sort"

	"github.com/shopspring/decimal"
)

// HoursPerDay is the number of pacing slots in one budget day.
const HoursPerDay = 24

// RatePrecision is the number of decimal places a CTR is quantized to
// when used as a rate bucket key.
const RatePrecision = 4

// HourAmounts is a sparse sampling of spend keyed by hour of day [0,23].
type HourAmounts map[int]decimal.Decimal

// Total returns the sum of all sampled amounts.
func (h HourAmounts) Total() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range h {
		total = total.Add(amount)
	}
	return total
}

// Add accumulates an amount into the given hour bucket.
func (h HourAmounts) Add(hour int, amount decimal.Decimal) {
	h[hour] = h[hour].Add(amount)
}

// Clone returns a deep copy.
func (h HourAmounts) Clone() HourAmounts {
	out := make(HourAmounts, len(h))
	for hour, amount := range h {
		out[hour] = amount
	}
	return out
}

// HourBudgetDistribution is a dense 24-slot spend allowance per hour.
type HourBudgetDistribution [HoursPerDay]decimal.Decimal

// Total returns the sum over all hours.
func (d HourBudgetDistribution) Total() decimal.Decimal {
	return d.TailTotal(0)
}

// TailTotal returns the sum over hours >= fromHour.
func (d HourBudgetDistribution) TailTotal(fromHour int) decimal.Decimal {
	total := decimal.Zero
	for hour := fromHour; hour < HoursPerDay; hour++ {
		total = total.Add(d[hour])
	}
	return total
}

// RateAmounts maps a quantized CTR rate bucket to its per-hour amounts.
type RateAmounts map[string]HourAmounts

// RateKey quantizes a CTR into its rate bucket key.
func RateKey(rate decimal.Decimal) string {
	return rate.Round(RatePrecision).String()
}

// Add accumulates an amount into the (rate, hour) bucket.
func (r RateAmounts) Add(rate decimal.Decimal, hour int, amount decimal.Decimal) {
	key := RateKey(rate)
	hours, ok := r[key]
	if !ok {
		hours = make(HourAmounts)
		r[key] = hours
	}
	hours.Add(hour, amount)
}

// Total returns the sum over all rate buckets and hours.
func (r RateAmounts) Total() decimal.Decimal {
	total := decimal.Zero
	for _, hours := range r {
		total = total.Add(hours.Total())
	}
	return total
}

// Clone returns a deep copy.
func (r RateAmounts) Clone() RateAmounts {
	out := make(RateAmounts, len(r))
	for key, hours := range r {
		out[key] = hours.Clone()
	}
	return out
}

// RestrictedAmount returns the total spend recorded in rate buckets whose
// rate is greater than or equal to minRate.
func RestrictedAmount(r RateAmounts, minRate decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for key, hours := range r {
		rate, err := decimal.NewFromString(key)
		if err != nil {
			continue
		}
		if rate.GreaterThanOrEqual(minRate) {
			total = total.Add(hours.Total())
		}
	}
	return total
}

// sortedRatesDesc returns the rate bucket values of r, highest first.
func sortedRatesDesc(r RateAmounts) []decimal.Decimal {
	rates := make([]decimal.Decimal, 0, len(r))
	for key := range r {
		rate, err := decimal.NewFromString(key)
		if err != nil {
			continue
		}
		rates = append(rates, rate)
	}
	sort.Slice(rates, func(i, j int) bool {
		return rates[i].GreaterThan(rates[j])
	})
	return rates
}
