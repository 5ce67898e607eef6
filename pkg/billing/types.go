// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package billing implements the real-time budget admission and confirmation
// engine: a three-level account/campaign/CCG ledger with optimistic
// reservations, partial-confirmation clamping, CTR-goal pacing and crash-safe
// snapshots.
package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoori/rtbserver-sub001/pkg/ctropt"
)

var (
	ErrNoConfig        = errors.New("billing: no config published")
	ErrUnknownAccount  = errors.New("billing: unknown account id")
	ErrUnknownCampaign = errors.New("billing: unknown campaign id")
	ErrUnknownCCG      = errors.New("billing: unknown ccg id")
)

// Bid is one real-time auction attempt to gate against configured budgets.
type Bid struct {
	Time         time.Time       `json:"time"`
	AccountID    uint64          `json:"account_id"`
	AdvertiserID uint64          `json:"advertiser_id"`
	CampaignID   uint64          `json:"campaign_id"`
	CCGID        uint64          `json:"ccg_id"`
	CTR          decimal.Decimal `json:"ctr"`

	// OptimizeCampaignCTR admits the bid into the CCG's CTR-optimized
	// spend pool, subject to the current goal rate.
	OptimizeCampaignCTR bool `json:"optimize_campaign_ctr"`
}

// BidResult is the admission decision. GoalCTR is unset when the bid was
// rejected before the CTR gate was evaluated.
type BidResult struct {
	Available bool                `json:"available"`
	GoalCTR   decimal.NullDecimal `json:"goal_ctr"`
}

// ConfirmAmounts is the mutable amount quadruple passed to ConfirmBid.
// When a level clamps the confirmation, every field is shrunk proportionally
// so delivered impressions and clicks stay in line with billed money.
type ConfirmAmounts struct {
	// AccountAmount is the amount billed against the account, which may
	// differ from the campaign/CCG amount by commission.
	AccountAmount decimal.Decimal `json:"account_amount"`

	// Amount is the amount billed against the campaign and CCG.
	Amount decimal.Decimal `json:"amount"`

	Imps   decimal.Decimal `json:"imps"`
	Clicks decimal.Decimal `json:"clicks"`
}

// Account holds an advertiser account's delivery constraints.
type Account struct {
	Active bool `json:"active"`

	// TimeOffset shifts UTC to the advertiser's local day boundary.
	TimeOffset time.Duration `json:"time_offset"`

	// Budget is the account's total spend cap. Unset means unlimited.
	Budget decimal.NullDecimal `json:"budget"`
}

// DeliveryLimits are the budget constraints shared by campaigns and CCGs.
type DeliveryLimits struct {
	Active      bool                `json:"active"`
	TimeOffset  time.Duration       `json:"time_offset"`
	DailyBudget decimal.NullDecimal `json:"daily_budget"`
	TotalBudget decimal.NullDecimal `json:"total_budget"`
}

// Campaign groups CCGs under shared delivery limits.
type Campaign struct {
	DeliveryLimits
}

// CCG is a creative campaign group: the unit that carries the rate card and
// the CTR pacing state.
type CCG struct {
	DeliveryLimits

	CampaignID uint64 `json:"campaign_id"`
	AccountID  uint64 `json:"account_id"`

	// ImpAmount and ClickAmount are the rate card used to price delivery.
	ImpAmount   decimal.Decimal `json:"imp_amount"`
	ClickAmount decimal.Decimal `json:"click_amount"`
}

// Config is an immutable configuration snapshot pushed by the campaign
// configuration collaborator. It is replaced whole, never merged.
type Config struct {
	Accounts  map[uint64]*Account  `json:"accounts"`
	Campaigns map[uint64]*Campaign `json:"campaigns"`
	CCGs      map[uint64]*CCG      `json:"ccgs"`
}

// AmountStat seeds an entity's spent-so-far figures from the stat merger.
type AmountStat struct {
	// Day is the entity-local day index the day amount belongs to.
	Day         int64           `json:"day"`
	DayAmount   decimal.Decimal `json:"day_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// CCGStat additionally carries the CCG's prior-day delivery curves used as
// pacing history.
type CCGStat struct {
	AmountStat

	GoaledAmounts ctropt.RateAmounts `json:"goaled_amounts"`
	FreeAmounts   ctropt.HourAmounts `json:"free_amounts"`
}

// Stat is an immutable spent-so-far snapshot pushed by the stat merging
// collaborator.
type Stat struct {
	Accounts  map[uint64]AmountStat `json:"accounts"`
	Campaigns map[uint64]AmountStat `json:"campaigns"`
	CCGs      map[uint64]CCGStat    `json:"ccgs"`
}

// BillingProcessor is the wire contract consumed by the real-time auction
// core. Budget exhaustion, clamping and reservation rejection are ordinary
// return values; errors are reserved for structural faults.
type BillingProcessor interface {
	CheckAvailableBid(bid Bid) (BidResult, error)
	ReserveBid(bid Bid, amount decimal.Decimal) (bool, error)
	ConfirmBid(amounts *ConfirmAmounts, bid Bid, forced bool) (BidResult, error)
	ClearExpiredReservations(now time.Time)
	SetConfig(cfg *Config)
	SetStat(stat *Stat)
	Dump() error
}

// secondsPerDay is the length of a budget day window.
const secondsPerDay = 24 * 60 * 60

// localDayIndex returns the entity-local day index for now under offset.
func localDayIndex(now time.Time, offset time.Duration) int64 {
	return now.Add(offset).Unix() / secondsPerDay
}

// localHour returns the entity-local hour of day for now under offset.
func localHour(now time.Time, offset time.Duration) int {
	return now.Add(offset).UTC().Hour()
}
