// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func TestLocalDayWindow(t *testing.T) {
	require := require.New(t)

	at := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	// A +3h offset advertiser is already in the next local day.
	require.Equal(localDayIndex(at, 0)+1, localDayIndex(at, 3*time.Hour))
	require.Equal(1, localHour(at, 3*time.Hour))
	require.Equal(22, localHour(at, 0))
}

func TestLedgerDayRollover(t *testing.T) {
	require := require.New(t)
	l := newAmountLedger()

	day1 := int64(20500)
	applied := l.confirm(7, day1, dec("30"), decimal.NullDecimal{}, decimal.NullDecimal{}, false)
	require.True(applied.Equal(dec("30")))

	day, total := l.get(7, day1)
	require.True(day.Equal(dec("30")))
	require.True(total.Equal(dec("30")))

	// Next day: the day window reads zero, the total persists.
	day, total = l.get(7, day1+1)
	require.True(day.IsZero())
	require.True(total.Equal(dec("30")))

	// Spending in the new day resets the window, not the total.
	l.confirm(7, day1+1, dec("5"), decimal.NullDecimal{}, decimal.NullDecimal{}, false)
	day, total = l.get(7, day1+1)
	require.True(day.Equal(dec("5")))
	require.True(total.Equal(dec("35")))
}

func TestLedgerConfirmClampExact(t *testing.T) {
	require := require.New(t)
	l := newAmountLedger()
	day := int64(20500)

	l.confirm(1, day, dec("90"), nullDec("100"), decimal.NullDecimal{}, false)
	applied := l.confirm(1, day, dec("40"), nullDec("100"), decimal.NullDecimal{}, false)
	require.True(applied.Equal(dec("10")))

	// Exhausted: further confirms apply nothing.
	applied = l.confirm(1, day, dec("40"), nullDec("100"), decimal.NullDecimal{}, false)
	require.True(applied.IsZero())

	// Forced bypasses the clamp entirely.
	applied = l.confirm(1, day, dec("40"), nullDec("100"), decimal.NullDecimal{}, true)
	require.True(applied.Equal(dec("40")))

	d, _ := l.get(1, day)
	require.True(d.Equal(dec("140")))
}

func TestLedgerTighterLimitWins(t *testing.T) {
	require := require.New(t)
	l := newAmountLedger()
	day := int64(20500)

	applied := l.confirm(1, day, dec("50"), nullDec("20"), nullDec("100"), false)
	require.True(applied.Equal(dec("20")))

	l2 := newAmountLedger()
	applied = l2.confirm(1, day, dec("50"), nullDec("100"), nullDec("30"), false)
	require.True(applied.Equal(dec("30")))
}

func TestLedgerReserveAllOrNothing(t *testing.T) {
	require := require.New(t)
	l := newAmountLedger()
	day := int64(20500)

	require.True(l.reserve(1, day, dec("60"), decimal.NullDecimal{}, nullDec("100")))
	require.False(l.reserve(1, day, dec("60"), decimal.NullDecimal{}, nullDec("100")))
	require.True(l.reserve(1, day, dec("40"), decimal.NullDecimal{}, nullDec("100")))

	_, total := l.get(1, day)
	require.True(total.Equal(dec("100")))
}

func TestLedgerRevertClampsAtZero(t *testing.T) {
	require := require.New(t)
	l := newAmountLedger()
	day := int64(20500)

	l.confirm(1, day, dec("10"), decimal.NullDecimal{}, decimal.NullDecimal{}, false)
	l.revert(1, day+1, dec("10"))

	d, total := l.get(1, day+1)
	require.True(d.IsZero())
	require.True(total.IsZero())
}

func TestLedgerSeedUpwardOnly(t *testing.T) {
	require := require.New(t)
	l := newAmountLedger()
	day := int64(20500)

	l.confirm(1, day, dec("50"), decimal.NullDecimal{}, decimal.NullDecimal{}, false)

	// Stat behind the local ledger: ignored.
	l.seed(1, AmountStat{Day: day, DayAmount: dec("20"), TotalAmount: dec("20")})
	d, total := l.get(1, day)
	require.True(d.Equal(dec("50")))
	require.True(total.Equal(dec("50")))

	// Stat ahead of the local ledger: adopted.
	l.seed(1, AmountStat{Day: day, DayAmount: dec("80"), TotalAmount: dec("90")})
	d, total = l.get(1, day)
	require.True(d.Equal(dec("80")))
	require.True(total.Equal(dec("90")))
}

// A lagging stat merger pushing yesterday's figures must not rewind today's
// day window and re-open spent budget.
func TestLedgerSeedStaleDayIgnored(t *testing.T) {
	require := require.New(t)
	l := newAmountLedger()
	day := int64(20500)

	l.confirm(1, day, dec("50"), decimal.NullDecimal{}, decimal.NullDecimal{}, false)

	l.seed(1, AmountStat{Day: day - 1, DayAmount: dec("999"), TotalAmount: dec("40")})
	d, total := l.get(1, day)
	require.True(d.Equal(dec("50")), "today's day spend survives a stale stat, got %s", d)
	require.True(total.Equal(dec("50")))
}
