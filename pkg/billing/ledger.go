// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package billing

import (
	"sync"

	"github.com/shopspring/decimal"
)

// entityAmount is one entity's confirmed spend. The day amount is valid only
// for DayIndex and is reset lazily when the entity's local day rolls over.
type entityAmount struct {
	Day      decimal.Decimal
	Total    decimal.Decimal
	DayIndex int64
}

// amountLedger is a confirmed-amount map for one hierarchy level. All three
// levels share this type so their arithmetic and locking behave identically.
// Each ledger has its own lock: bids against unrelated entities never contend
// across levels.
type amountLedger struct {
	mu      sync.RWMutex
	amounts map[uint64]*entityAmount
}

func newAmountLedger() *amountLedger {
	return &amountLedger{amounts: make(map[uint64]*entityAmount)}
}

// roll resets the day window when the entity's local day advanced. Backward
// indices (a lagging stat merger, a delayed bid) must not rewind the window:
// that would zero today's confirmed spend and re-open it.
func (ea *entityAmount) roll(dayIndex int64) {
	if dayIndex > ea.DayIndex {
		ea.Day = decimal.Zero
		ea.DayIndex = dayIndex
	}
}

// entry returns the entity's record, creating it at the current day.
func (l *amountLedger) entry(id uint64, dayIndex int64) *entityAmount {
	ea, ok := l.amounts[id]
	if !ok {
		ea = &entityAmount{DayIndex: dayIndex}
		l.amounts[id] = ea
	}
	ea.roll(dayIndex)
	return ea
}

// get returns the entity's day and total confirmed amounts without mutating
// the ledger. A stale day window reads as zero.
func (l *amountLedger) get(id uint64, dayIndex int64) (day, total decimal.Decimal) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ea, ok := l.amounts[id]
	if !ok {
		return decimal.Zero, decimal.Zero
	}
	if ea.DayIndex == dayIndex {
		day = ea.Day
	}
	return day, ea.Total
}

// available reports whether the entity still has headroom under its limits.
func (l *amountLedger) available(id uint64, dayIndex int64, daily, total decimal.NullDecimal) bool {
	day, tot := l.get(id, dayIndex)
	if daily.Valid && day.GreaterThanOrEqual(daily.Decimal) {
		return false
	}
	if total.Valid && tot.GreaterThanOrEqual(total.Decimal) {
		return false
	}
	return true
}

// headroomLocked returns the remaining budget under the tighter of the two
// limits. ok is false when both limits are unset (unlimited).
func (ea *entityAmount) headroomLocked(daily, total decimal.NullDecimal) (decimal.Decimal, bool) {
	headroom := decimal.Zero
	limited := false
	if daily.Valid {
		headroom = daily.Decimal.Sub(ea.Day)
		limited = true
	}
	if total.Valid {
		h := total.Decimal.Sub(ea.Total)
		if !limited || h.LessThan(headroom) {
			headroom = h
		}
		limited = true
	}
	if limited && headroom.IsNegative() {
		headroom = decimal.Zero
	}
	return headroom, limited
}

// confirm applies amount against the entity's limits and returns the amount
// actually applied. Without forced the applied amount is clamped exactly to
// the remaining headroom; forced applies in full regardless.
func (l *amountLedger) confirm(
	id uint64,
	dayIndex int64,
	amount decimal.Decimal,
	daily, total decimal.NullDecimal,
	forced bool,
) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	ea := l.entry(id, dayIndex)
	applied := amount
	if !forced {
		if headroom, limited := ea.headroomLocked(daily, total); limited && applied.GreaterThan(headroom) {
			applied = headroom
		}
	}
	ea.Day = ea.Day.Add(applied)
	ea.Total = ea.Total.Add(applied)
	return applied
}

// reserve applies amount only if the entity keeps within its limits,
// reporting whether it was applied.
func (l *amountLedger) reserve(
	id uint64,
	dayIndex int64,
	amount decimal.Decimal,
	daily, total decimal.NullDecimal,
) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ea := l.entry(id, dayIndex)
	if daily.Valid && ea.Day.Add(amount).GreaterThan(daily.Decimal) {
		return false
	}
	if total.Valid && ea.Total.Add(amount).GreaterThan(total.Decimal) {
		return false
	}
	ea.Day = ea.Day.Add(amount)
	ea.Total = ea.Total.Add(amount)
	return true
}

// revert subtracts a previously applied amount. Amounts are clamped at zero:
// a day rollover between apply and revert must not drive the window negative.
func (l *amountLedger) revert(id uint64, dayIndex int64, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ea := l.entry(id, dayIndex)
	ea.Day = ea.Day.Sub(amount)
	if ea.Day.IsNegative() {
		ea.Day = decimal.Zero
	}
	ea.Total = ea.Total.Sub(amount)
	if ea.Total.IsNegative() {
		ea.Total = decimal.Zero
	}
}

// seed raises the entity's figures to a stat snapshot's values. Seeding only
// moves amounts upward: the local ledger may run ahead of the stat merger and
// regressing it would re-open spent budget.
func (l *amountLedger) seed(id uint64, stat AmountStat) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ea := l.entry(id, stat.Day)
	if stat.TotalAmount.GreaterThan(ea.Total) {
		ea.Total = stat.TotalAmount
	}
	if ea.DayIndex == stat.Day && stat.DayAmount.GreaterThan(ea.Day) {
		ea.Day = stat.DayAmount
	}
}

// amountRecord is the persisted form of one ledger entry.
type amountRecord struct {
	ID          uint64          `json:"id"`
	DayIndex    int64           `json:"day"`
	DayAmount   decimal.Decimal `json:"day_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// snapshot copies the ledger for dumping. Only this map's lock is held.
func (l *amountLedger) snapshot() []amountRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := make([]amountRecord, 0, len(l.amounts))
	for id, ea := range l.amounts {
		records = append(records, amountRecord{
			ID:          id,
			DayIndex:    ea.DayIndex,
			DayAmount:   ea.Day,
			TotalAmount: ea.Total,
		})
	}
	return records
}

// restore replaces the ledger contents from persisted records.
func (l *amountLedger) restore(records []amountRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.amounts = make(map[uint64]*entityAmount, len(records))
	for _, rec := range records {
		l.amounts[rec.ID] = &entityAmount{
			Day:      rec.DayAmount,
			Total:    rec.TotalAmount,
			DayIndex: rec.DayIndex,
		}
	}
}
