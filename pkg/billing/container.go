// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package billing

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/yoori/rtbserver-sub001/pkg/ctropt"
	"github.com/yoori/rtbserver-sub001/pkg/log"
	"github.com/yoori/rtbserver-sub001/pkg/metric"
)

// ContainerConfig tunes a BillingContainer.
type ContainerConfig struct {
	// StorageRoot is the snapshot directory. Empty disables persistence.
	StorageRoot string

	// ReserveTimeout is how long an unconfirmed reservation holds budget.
	ReserveTimeout time.Duration

	Optimizer ctropt.Options
	Logger    log.Logger
	Metrics   *metric.Metrics
}

const defaultReserveTimeout = 30 * time.Second

func (cfg ContainerConfig) withDefaults() ContainerConfig {
	if cfg.ReserveTimeout <= 0 {
		cfg.ReserveTimeout = defaultReserveTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NoOp()
	}
	return cfg
}

// BillingContainer is the budget admission and confirmation engine. One
// shared instance serves many concurrent worker threads; the hot path never
// performs I/O and holds only short per-map locks.
type BillingContainer struct {
	cfg       ContainerConfig
	log       log.Logger
	metrics   *metric.Metrics
	optimizer *ctropt.CTROptimizer

	config atomic.Pointer[Config]
	stat   atomic.Pointer[Stat]

	accounts  *amountLedger
	campaigns *amountLedger
	ccgs      *amountLedger
	rates     *rateLedger
	rateOpts  *rateOptLedger

	reservations *reservationBook
	goalFlight   singleflight.Group

	dumpMu sync.Mutex
}

var _ BillingProcessor = (*BillingContainer)(nil)

// New creates a container, restoring any snapshot found under StorageRoot.
func New(cfg ContainerConfig) (*BillingContainer, error) {
	cfg = cfg.withDefaults()

	c := &BillingContainer{
		cfg:          cfg,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		optimizer:    ctropt.New(cfg.Optimizer),
		accounts:     newAmountLedger(),
		campaigns:    newAmountLedger(),
		ccgs:         newAmountLedger(),
		rates:        newRateLedger(),
		rateOpts:     newRateOptLedger(),
		reservations: newReservationBook(),
	}

	if cfg.StorageRoot != "" {
		if err := c.loadStorage(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SetConfig publishes a new configuration snapshot. Readers see either the
// old or the new snapshot, never a mix.
func (c *BillingContainer) SetConfig(cfg *Config) {
	c.config.Store(cfg)
}

// SetStat publishes a new spent-so-far snapshot and seeds the ledgers with
// its figures.
func (c *BillingContainer) SetStat(stat *Stat) {
	c.stat.Store(stat)
	if stat == nil {
		return
	}
	for id, s := range stat.Accounts {
		c.accounts.seed(id, s)
	}
	for id, s := range stat.Campaigns {
		c.campaigns.seed(id, s)
	}
	for id, s := range stat.CCGs {
		c.ccgs.seed(id, s.AmountStat)
		c.rates.seedYesterday(id, s.Day, s.GoaledAmounts, s.FreeAmounts)
	}
}

// bidEntities resolves a bid's configured entities.
func (c *BillingContainer) bidEntities(bid Bid) (*Config, *Account, *Campaign, *CCG, error) {
	cfg := c.config.Load()
	if cfg == nil {
		return nil, nil, nil, nil, ErrNoConfig
	}
	account, ok := cfg.Accounts[bid.AccountID]
	if !ok {
		return nil, nil, nil, nil, ErrUnknownAccount
	}
	campaign, ok := cfg.Campaigns[bid.CampaignID]
	if !ok {
		return nil, nil, nil, nil, ErrUnknownCampaign
	}
	ccg, ok := cfg.CCGs[bid.CCGID]
	if !ok {
		return nil, nil, nil, nil, ErrUnknownCCG
	}
	return cfg, account, campaign, ccg, nil
}

// CheckAvailableBid is the read path: it reports whether every hierarchy
// level still has headroom for the bid, applies the CTR goal gate for
// CTR-optimized bids and the hourly free-plan pacing gate for the rest.
// No amount map is mutated.
func (c *BillingContainer) CheckAvailableBid(bid Bid) (BidResult, error) {
	if c.metrics != nil {
		start := time.Now()
		defer func() {
			c.metrics.CheckLatency.Observe(time.Since(start).Seconds())
		}()
		c.metrics.BidsChecked.Inc()
	}

	_, account, campaign, ccg, err := c.bidEntities(bid)
	if err != nil {
		return BidResult{}, err
	}

	if !account.Active || !campaign.Active || !ccg.Active {
		c.countRejection("inactive")
		return BidResult{}, nil
	}

	// Account first: an exhausted account short-circuits the cheaper checks.
	if !c.accounts.available(bid.AccountID,
		localDayIndex(bid.Time, account.TimeOffset),
		decimal.NullDecimal{}, account.Budget) {
		c.countRejection("account_budget")
		return BidResult{}, nil
	}
	if !c.campaigns.available(bid.CampaignID,
		localDayIndex(bid.Time, campaign.TimeOffset),
		campaign.DailyBudget, campaign.TotalBudget) {
		c.countRejection("campaign_budget")
		return BidResult{}, nil
	}
	if !c.ccgs.available(bid.CCGID,
		localDayIndex(bid.Time, ccg.TimeOffset),
		ccg.DailyBudget, ccg.TotalBudget) {
		c.countRejection("ccg_budget")
		return BidResult{}, nil
	}

	result := BidResult{Available: true}
	if bid.OptimizeCampaignCTR {
		goal := c.currentRateGoal(bid.CCGID, ccg, bid.Time)
		result.GoalCTR = decimal.NewNullDecimal(goal.GoalRate)
		if bid.CTR.LessThan(goal.GoalRate) {
			result.Available = false
			c.countRejection("ctr_goal")
		}
	} else if ccg.DailyBudget.Valid {
		if !c.checkFreeBudgetPlan(bid.CCGID, ccg, bid.Time) {
			result.Available = false
			c.countRejection("free_pacing")
		}
	}
	return result, nil
}

// ReserveBid optimistically pre-commits amount into all three levels before
// the auction winner is known. A level over budget rejects the whole
// reservation and rolls back the levels already applied in this call.
func (c *BillingContainer) ReserveBid(bid Bid, amount decimal.Decimal) (bool, error) {
	_, account, campaign, ccg, err := c.bidEntities(bid)
	if err != nil {
		return false, err
	}
	if !account.Active || !campaign.Active || !ccg.Active {
		c.countRejection("inactive")
		return false, nil
	}

	levels := c.bidLevels(bid, account, campaign, ccg)
	for i, lv := range levels {
		if !lv.ledger.reserve(lv.id, lv.dayIndex, amount, lv.daily, lv.total) {
			for j := 0; j < i; j++ {
				levels[j].ledger.revert(levels[j].id, levels[j].dayIndex, amount)
			}
			c.countRejection("reservation")
			return false, nil
		}
	}

	c.reservations.add(&reservation{
		ID:         uuid.New(),
		AccountID:  bid.AccountID,
		CampaignID: bid.CampaignID,
		CCGID:      bid.CCGID,
		Amount:     amount,
		Expiry:     bid.Time.Add(c.cfg.ReserveTimeout),
	})
	if c.metrics != nil {
		c.metrics.BidsReserved.Inc()
		c.metrics.ReservationsActive.Set(float64(c.reservations.len()))
	}
	return true, nil
}

// ConfirmBid is the authoritative post-auction commit. Levels are processed
// account first; a clamped level shrinks the remaining amounts proportionally
// and rolls back the excess already applied below it, keeping the hierarchy
// consistent. forced applies the full amounts unconditionally, used to
// reconcile delivery that already physically happened.
func (c *BillingContainer) ConfirmBid(amounts *ConfirmAmounts, bid Bid, forced bool) (BidResult, error) {
	if c.metrics != nil {
		start := time.Now()
		defer func() {
			c.metrics.ConfirmLatency.Observe(time.Since(start).Seconds())
		}()
	}

	cfg, account, campaign, ccg, err := c.bidEntities(bid)
	if err != nil {
		return BidResult{}, err
	}

	// Replace the optimistic hold with the authoritative amounts. Forced
	// confirms reconcile delivery logged out of band and must not strip a
	// hold belonging to a still-pending auction.
	if !forced {
		if res, ok := c.reservations.takeOldest(bid.CCGID); ok {
			c.revertReservation(res, bid.Time, cfg)
			if c.metrics != nil {
				c.metrics.ReservationsActive.Set(float64(c.reservations.len()))
			}
		}
	}

	levels := c.bidLevels(bid, account, campaign, ccg)
	clamped := false
	for i, lv := range levels {
		requested := amounts.Amount
		if lv.account {
			requested = amounts.AccountAmount
		}
		lv.applied = lv.ledger.confirm(lv.id, lv.dayIndex, requested, lv.daily, lv.total, forced)
		if lv.applied.LessThan(requested) {
			clamped = true
			if requested.IsPositive() {
				ratio := lv.applied.Div(requested)
				c.recalcRemindAmounts(amounts, ratio)
				c.revertConfirmedBid(levels[:i], ratio)
			}
		}
	}

	result := BidResult{Available: !clamped}
	c.confirmBidRate(&result, amounts, bid, ccg)
	if c.metrics != nil {
		c.metrics.BidsConfirmed.Inc()
	}
	return result, nil
}

// ClearExpiredReservations reverts reservations whose expiry has passed
// without a matching confirm, bounding phantom reserved budget from dropped
// or timed-out auctions.
func (c *BillingContainer) ClearExpiredReservations(now time.Time) {
	expired := c.reservations.takeExpired(now)
	if len(expired) == 0 {
		return
	}
	cfg := c.config.Load()
	for _, res := range expired {
		c.revertReservation(res, now, cfg)
	}
	c.log.Debug("expired reservations reverted", "count", len(expired))
	if c.metrics != nil {
		c.metrics.ReservationsExpired.Add(float64(len(expired)))
		c.metrics.ReservationsActive.Set(float64(c.reservations.len()))
	}
}

// bidLevel binds one hierarchy level's ledger to a bid's entity and limits.
type bidLevel struct {
	ledger   *amountLedger
	id       uint64
	dayIndex int64
	daily    decimal.NullDecimal
	total    decimal.NullDecimal
	account  bool
	applied  decimal.Decimal
}

func (c *BillingContainer) bidLevels(bid Bid, account *Account, campaign *Campaign, ccg *CCG) []*bidLevel {
	return []*bidLevel{
		{
			ledger:   c.accounts,
			id:       bid.AccountID,
			dayIndex: localDayIndex(bid.Time, account.TimeOffset),
			total:    account.Budget,
			account:  true,
		},
		{
			ledger:   c.campaigns,
			id:       bid.CampaignID,
			dayIndex: localDayIndex(bid.Time, campaign.TimeOffset),
			daily:    campaign.DailyBudget,
			total:    campaign.TotalBudget,
		},
		{
			ledger:   c.ccgs,
			id:       bid.CCGID,
			dayIndex: localDayIndex(bid.Time, ccg.TimeOffset),
			daily:    ccg.DailyBudget,
			total:    ccg.TotalBudget,
		},
	}
}

// recalcRemindAmounts shrinks the remaining confirm amounts in line with a
// clamp, so delivered imps/clicks track billed money.
func (c *BillingContainer) recalcRemindAmounts(amounts *ConfirmAmounts, ratio decimal.Decimal) {
	amounts.AccountAmount = amounts.AccountAmount.Mul(ratio)
	amounts.Amount = amounts.Amount.Mul(ratio)
	amounts.Imps = amounts.Imps.Mul(ratio)
	amounts.Clicks = amounts.Clicks.Mul(ratio)
}

// revertConfirmedBid rolls already-applied prior levels back to their share
// of the clamped amount.
func (c *BillingContainer) revertConfirmedBid(prior []*bidLevel, ratio decimal.Decimal) {
	for _, lv := range prior {
		target := lv.applied.Mul(ratio)
		lv.ledger.revert(lv.id, lv.dayIndex, lv.applied.Sub(target))
		lv.applied = target
	}
}

// revertReservation undoes a hold at all three levels.
func (c *BillingContainer) revertReservation(res *reservation, now time.Time, cfg *Config) {
	var accountOff, campaignOff, ccgOff time.Duration
	if cfg != nil {
		if account, ok := cfg.Accounts[res.AccountID]; ok {
			accountOff = account.TimeOffset
		}
		if campaign, ok := cfg.Campaigns[res.CampaignID]; ok {
			campaignOff = campaign.TimeOffset
		}
		if ccg, ok := cfg.CCGs[res.CCGID]; ok {
			ccgOff = ccg.TimeOffset
		}
	}
	c.accounts.revert(res.AccountID, localDayIndex(now, accountOff), res.Amount)
	c.campaigns.revert(res.CampaignID, localDayIndex(now, campaignOff), res.Amount)
	c.ccgs.revert(res.CCGID, localDayIndex(now, ccgOff), res.Amount)
}

// confirmBidRate records the confirmed spend into the CCG's rate-bucketed
// ledger and refreshes its pacing threshold so subsequent checks see it.
func (c *BillingContainer) confirmBidRate(result *BidResult, amounts *ConfirmAmounts, bid Bid, ccg *CCG) {
	dayIndex := localDayIndex(bid.Time, ccg.TimeOffset)
	hour := localHour(bid.Time, ccg.TimeOffset)

	if amounts.Amount.IsPositive() {
		if bid.OptimizeCampaignCTR {
			c.rates.addGoaled(bid.CCGID, dayIndex, hour, bid.CTR, amounts.Amount)
		} else {
			c.rates.addFree(bid.CCGID, dayIndex, hour, amounts.Amount)
		}
	}
	if bid.OptimizeCampaignCTR {
		goal := c.recomputeRateGoal(bid.CCGID, ccg, dayIndex, hour)
		result.GoalCTR = decimal.NewNullDecimal(goal.GoalRate)
	}
}

// currentRateGoal returns the CCG's pacing decision for the current hour,
// recomputing it lazily under a single-flight group so concurrent checks
// against the same CCG coalesce into one optimizer run.
func (c *BillingContainer) currentRateGoal(ccgID uint64, ccg *CCG, now time.Time) *rateGoal {
	dayIndex := localDayIndex(now, ccg.TimeOffset)
	hour := localHour(now, ccg.TimeOffset)

	if g, ok := c.rateOpts.get(ccgID, dayIndex, hour); ok {
		return g
	}

	v, _, _ := c.goalFlight.Do(strconv.FormatUint(ccgID, 10), func() (any, error) {
		if g, ok := c.rateOpts.get(ccgID, dayIndex, hour); ok {
			return g, nil
		}
		return c.recomputeRateGoal(ccgID, ccg, dayIndex, hour), nil
	})
	return v.(*rateGoal)
}

// checkFreeBudgetPlan paces the non-optimized pool: the current hour's free
// spend must stay under the hour's planned allowance.
func (c *BillingContainer) checkFreeBudgetPlan(ccgID uint64, ccg *CCG, now time.Time) bool {
	g := c.currentRateGoal(ccgID, ccg, now)
	dayIndex := localDayIndex(now, ccg.TimeOffset)
	hour := localHour(now, ccg.TimeOffset)
	return c.rates.freeHourSpend(ccgID, dayIndex, hour).LessThan(g.FreePlan[hour])
}

// recomputeRateGoal runs the optimizer over the CCG's current curves and
// caches the decision for the rest of the hour.
func (c *BillingContainer) recomputeRateGoal(ccgID uint64, ccg *CCG, dayIndex int64, hour int) *rateGoal {
	if !ccg.DailyBudget.Valid {
		// No daily ceiling: nothing to pace against, admit every CTR.
		g := &rateGoal{DayIndex: dayIndex, Hour: hour}
		c.rateOpts.set(ccgID, g)
		return g
	}

	in := c.rates.goalInput(ccgID, dayIndex, hour)
	in.TodayBudget = ccg.DailyBudget.Decimal
	res := c.optimizer.RecalculateRateGoal(in)

	g := &rateGoal{
		GoalRate: res.GoalRate,
		FreePlan: res.FreePlan,
		DayIndex: dayIndex,
		Hour:     hour,
	}
	c.rateOpts.set(ccgID, g)
	if c.metrics != nil {
		c.metrics.RateGoalRecomputes.Inc()
	}
	return g
}

func (c *BillingContainer) countRejection(reason string) {
	if c.metrics != nil {
		c.metrics.BidsRejected.WithLabelValues(reason).Inc()
	}
}
