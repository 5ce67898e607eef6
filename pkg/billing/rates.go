// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package billing

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/yoori/rtbserver-sub001/pkg/ctropt"
)

// ccgRateEntry is one CCG's live delivery curves: today's and yesterday's
// goaled (CTR-restricted) spend by rate bucket and hour, and free
// (unrestricted) spend by hour.
type ccgRateEntry struct {
	DayIndex        int64
	TodayGoaled     ctropt.RateAmounts
	YesterdayGoaled ctropt.RateAmounts
	TodayFree       ctropt.HourAmounts
	YesterdayFree   ctropt.HourAmounts
}

func newCCGRateEntry(dayIndex int64) *ccgRateEntry {
	return &ccgRateEntry{
		DayIndex:        dayIndex,
		TodayGoaled:     make(ctropt.RateAmounts),
		YesterdayGoaled: make(ctropt.RateAmounts),
		TodayFree:       make(ctropt.HourAmounts),
		YesterdayFree:   make(ctropt.HourAmounts),
	}
}

// roll rotates the day windows when the CCG's local day advanced. Today's
// curves become yesterday's only across an adjacent rollover; a longer gap
// leaves no usable history. Backward indices leave the windows intact.
func (e *ccgRateEntry) roll(dayIndex int64) {
	if dayIndex <= e.DayIndex {
		return
	}
	if dayIndex == e.DayIndex+1 {
		e.YesterdayGoaled = e.TodayGoaled
		e.YesterdayFree = e.TodayFree
	} else {
		e.YesterdayGoaled = make(ctropt.RateAmounts)
		e.YesterdayFree = make(ctropt.HourAmounts)
	}
	e.TodayGoaled = make(ctropt.RateAmounts)
	e.TodayFree = make(ctropt.HourAmounts)
	e.DayIndex = dayIndex
}

// rateLedger is the per-CCG rate-bucketed amount map.
type rateLedger struct {
	mu      sync.RWMutex
	entries map[uint64]*ccgRateEntry
}

func newRateLedger() *rateLedger {
	return &rateLedger{entries: make(map[uint64]*ccgRateEntry)}
}

func (l *rateLedger) entry(id uint64, dayIndex int64) *ccgRateEntry {
	e, ok := l.entries[id]
	if !ok {
		e = newCCGRateEntry(dayIndex)
		l.entries[id] = e
	}
	e.roll(dayIndex)
	return e
}

// addGoaled records CTR-optimized spend into the (rate, hour) bucket.
func (l *rateLedger) addGoaled(id uint64, dayIndex int64, hour int, rate, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entry(id, dayIndex).TodayGoaled.Add(rate, hour, amount)
}

// addFree records unrestricted spend into the hour bucket.
func (l *rateLedger) addFree(id uint64, dayIndex int64, hour int, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entry(id, dayIndex).TodayFree.Add(hour, amount)
}

// seedYesterday installs prior-day curves pushed by the stat merger. Only
// the historical windows are touched; today's curves stay under local
// ownership. A stat behind the CCG's current day carries curves older than
// yesterday and is dropped.
func (l *rateLedger) seedYesterday(id uint64, dayIndex int64, goaled ctropt.RateAmounts, free ctropt.HourAmounts) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(id, dayIndex)
	if e.DayIndex != dayIndex {
		return
	}
	if goaled != nil {
		e.YesterdayGoaled = goaled.Clone()
	}
	if free != nil {
		e.YesterdayFree = free.Clone()
	}
}

// freeHourSpend returns today's unrestricted spend in one hour bucket.
func (l *rateLedger) freeHourSpend(id uint64, dayIndex int64, hour int) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entry(id, dayIndex).TodayFree[hour]
}

// goalInput clones the CCG's curves for an optimizer run, so the recompute
// happens outside the ledger lock.
func (l *rateLedger) goalInput(id uint64, dayIndex int64, hour int) ctropt.RateGoalInput {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(id, dayIndex)
	return ctropt.RateGoalInput{
		YesterdayGoaled: e.YesterdayGoaled.Clone(),
		TodayGoaled:     e.TodayGoaled.Clone(),
		YesterdayFree:   e.YesterdayFree.Clone(),
		TodayFree:       e.TodayFree.Clone(),
		Hour:            hour,
	}
}

// rateRecord is the persisted form of one CCG's curves.
type rateRecord struct {
	CCGID           uint64             `json:"ccg_id"`
	DayIndex        int64              `json:"day"`
	TodayGoaled     ctropt.RateAmounts `json:"today_goaled"`
	YesterdayGoaled ctropt.RateAmounts `json:"yesterday_goaled"`
	TodayFree       ctropt.HourAmounts `json:"today_free"`
	YesterdayFree   ctropt.HourAmounts `json:"yesterday_free"`
}

func (l *rateLedger) snapshot() []rateRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := make([]rateRecord, 0, len(l.entries))
	for id, e := range l.entries {
		records = append(records, rateRecord{
			CCGID:           id,
			DayIndex:        e.DayIndex,
			TodayGoaled:     e.TodayGoaled.Clone(),
			YesterdayGoaled: e.YesterdayGoaled.Clone(),
			TodayFree:       e.TodayFree.Clone(),
			YesterdayFree:   e.YesterdayFree.Clone(),
		})
	}
	return records
}

func (l *rateLedger) restore(records []rateRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[uint64]*ccgRateEntry, len(records))
	for _, rec := range records {
		e := newCCGRateEntry(rec.DayIndex)
		if rec.TodayGoaled != nil {
			e.TodayGoaled = rec.TodayGoaled
		}
		if rec.YesterdayGoaled != nil {
			e.YesterdayGoaled = rec.YesterdayGoaled
		}
		if rec.TodayFree != nil {
			e.TodayFree = rec.TodayFree
		}
		if rec.YesterdayFree != nil {
			e.YesterdayFree = rec.YesterdayFree
		}
		l.entries[rec.CCGID] = e
	}
}

// rateGoal is a cached pacing decision for one CCG, valid for one
// entity-local hour.
type rateGoal struct {
	GoalRate decimal.Decimal
	FreePlan ctropt.HourBudgetDistribution
	DayIndex int64
	Hour     int
}

// rateOptLedger caches rate goals per CCG.
type rateOptLedger struct {
	mu    sync.RWMutex
	goals map[uint64]*rateGoal
}

func newRateOptLedger() *rateOptLedger {
	return &rateOptLedger{goals: make(map[uint64]*rateGoal)}
}

// get returns the cached goal if it is still valid for (dayIndex, hour).
func (l *rateOptLedger) get(id uint64, dayIndex int64, hour int) (*rateGoal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	g, ok := l.goals[id]
	if !ok || g.DayIndex != dayIndex || g.Hour != hour {
		return nil, false
	}
	return g, true
}

func (l *rateOptLedger) set(id uint64, g *rateGoal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.goals[id] = g
}

// rateOptRecord is the persisted form of one cached goal.
type rateOptRecord struct {
	CCGID    uint64                        `json:"ccg_id"`
	DayIndex int64                         `json:"day"`
	Hour     int                           `json:"hour"`
	GoalRate decimal.Decimal               `json:"goal_rate"`
	FreePlan ctropt.HourBudgetDistribution `json:"free_plan"`
}

func (l *rateOptLedger) snapshot() []rateOptRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := make([]rateOptRecord, 0, len(l.goals))
	for id, g := range l.goals {
		records = append(records, rateOptRecord{
			CCGID:    id,
			DayIndex: g.DayIndex,
			Hour:     g.Hour,
			GoalRate: g.GoalRate,
			FreePlan: g.FreePlan,
		})
	}
	return records
}

func (l *rateOptLedger) restore(records []rateOptRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.goals = make(map[uint64]*rateGoal, len(records))
	for _, rec := range records {
		l.goals[rec.CCGID] = &rateGoal{
			GoalRate: rec.GoalRate,
			FreePlan: rec.FreePlan,
			DayIndex: rec.DayIndex,
			Hour:     rec.Hour,
		}
	}
}
