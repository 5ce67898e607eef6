// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rtb adapts OpenRTB 2.x bid requests at the exchange boundary into
// billing bids, and gates impressions on the admission decision.
package rtb

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/shopspring/decimal"

	"github.com/yoori/rtbserver-sub001/pkg/billing"
)

var (
	ErrNoImpressions  = errors.New("rtb: bid request carries no impressions")
	ErrMissingBilling = errors.New("rtb: impression ext carries no billing object")
)

// BillingExt is the exchange-specific impression extension carrying the
// budget targeting ids and the predicted CTR.
type BillingExt struct {
	AccountID    uint64          `json:"account_id"`
	AdvertiserID uint64          `json:"advertiser_id"`
	CampaignID   uint64          `json:"campaign_id"`
	CCGID        uint64          `json:"ccg_id"`
	CTR          decimal.Decimal `json:"ctr"`
	OptimizeCTR  bool            `json:"optimize_ctr"`
}

type impExt struct {
	Billing *BillingExt `json:"billing"`
}

// ImpBid ties a billing bid back to the impression it was derived from.
type ImpBid struct {
	ImpID string
	Bid   billing.Bid
}

// BidsFromRequest converts every impression of an OpenRTB bid request into a
// billing bid. now stamps the bids; the request's own timestamps are not
// trusted for budget-day placement.
func BidsFromRequest(req *openrtb2.BidRequest, now time.Time) ([]ImpBid, error) {
	if len(req.Imp) == 0 {
		return nil, ErrNoImpressions
	}

	bids := make([]ImpBid, 0, len(req.Imp))
	for _, imp := range req.Imp {
		ext, err := parseImpExt(imp)
		if err != nil {
			return nil, fmt.Errorf("imp %q: %w", imp.ID, err)
		}
		bids = append(bids, ImpBid{
			ImpID: imp.ID,
			Bid: billing.Bid{
				Time:                now,
				AccountID:           ext.AccountID,
				AdvertiserID:        ext.AdvertiserID,
				CampaignID:          ext.CampaignID,
				CCGID:               ext.CCGID,
				CTR:                 ext.CTR,
				OptimizeCampaignCTR: ext.OptimizeCTR,
			},
		})
	}
	return bids, nil
}

func parseImpExt(imp openrtb2.Imp) (*BillingExt, error) {
	if len(imp.Ext) == 0 {
		return nil, ErrMissingBilling
	}
	var ext impExt
	if err := json.Unmarshal(imp.Ext, &ext); err != nil {
		return nil, fmt.Errorf("rtb: parse impression ext: %w", err)
	}
	if ext.Billing == nil {
		return nil, ErrMissingBilling
	}
	return ext.Billing, nil
}

// Admission is one impression's admission decision.
type Admission struct {
	ImpID     string              `json:"imp_id"`
	Available bool                `json:"available"`
	GoalCTR   decimal.NullDecimal `json:"goal_ctr"`
}

// CheckRequest runs every impression of a bid request through the billing
// processor. A structural error on any impression fails the whole request,
// matching the all-or-nothing contract of the auction core.
func CheckRequest(proc billing.BillingProcessor, req *openrtb2.BidRequest, now time.Time) ([]Admission, error) {
	bids, err := BidsFromRequest(req, now)
	if err != nil {
		return nil, err
	}

	admissions := make([]Admission, 0, len(bids))
	for _, ib := range bids {
		result, err := proc.CheckAvailableBid(ib.Bid)
		if err != nil {
			return nil, fmt.Errorf("imp %q: %w", ib.ImpID, err)
		}
		admissions = append(admissions, Admission{
			ImpID:     ib.ImpID,
			Available: result.Available,
			GoalCTR:   result.GoalCTR,
		})
	}
	return admissions, nil
}
