// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rtb

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/yoori/rtbserver-sub001/pkg/billing"
	"github.com/yoori/rtbserver-sub001/pkg/log"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleRequest() *openrtb2.BidRequest {
	return &openrtb2.BidRequest{
		ID: "req-1",
		Imp: []openrtb2.Imp{
			{
				ID: "imp-1",
				Ext: json.RawMessage(`{"billing":{
					"account_id":1,"advertiser_id":2,"campaign_id":10,
					"ccg_id":100,"ctr":"0.02","optimize_ctr":false}}`),
			},
		},
	}
}

func TestBidsFromRequest(t *testing.T) {
	require := require.New(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bids, err := BidsFromRequest(sampleRequest(), now)
	require.NoError(err)
	require.Len(bids, 1)

	require.Equal("imp-1", bids[0].ImpID)
	bid := bids[0].Bid
	require.Equal(now, bid.Time)
	require.Equal(uint64(1), bid.AccountID)
	require.Equal(uint64(2), bid.AdvertiserID)
	require.Equal(uint64(10), bid.CampaignID)
	require.Equal(uint64(100), bid.CCGID)
	require.True(bid.CTR.Equal(dec("0.02")))
	require.False(bid.OptimizeCampaignCTR)
}

func TestBidsFromRequestNoImpressions(t *testing.T) {
	require := require.New(t)

	_, err := BidsFromRequest(&openrtb2.BidRequest{ID: "empty"}, time.Now())
	require.ErrorIs(err, ErrNoImpressions)
}

func TestBidsFromRequestMissingBillingExt(t *testing.T) {
	require := require.New(t)

	req := &openrtb2.BidRequest{
		ID:  "req-2",
		Imp: []openrtb2.Imp{{ID: "imp-1", Ext: json.RawMessage(`{"other":{}}`)}},
	}
	_, err := BidsFromRequest(req, time.Now())
	require.ErrorIs(err, ErrMissingBilling)

	req.Imp[0].Ext = nil
	_, err = BidsFromRequest(req, time.Now())
	require.ErrorIs(err, ErrMissingBilling)
}

func TestCheckRequest(t *testing.T) {
	require := require.New(t)

	container, err := billing.New(billing.ContainerConfig{Logger: log.NoOp()})
	require.NoError(err)
	container.SetConfig(&billing.Config{
		Accounts: map[uint64]*billing.Account{
			1: {Active: true, Budget: decimal.NewNullDecimal(dec("100"))},
		},
		Campaigns: map[uint64]*billing.Campaign{
			10: {DeliveryLimits: billing.DeliveryLimits{Active: true}},
		},
		CCGs: map[uint64]*billing.CCG{
			100: {
				DeliveryLimits: billing.DeliveryLimits{Active: true},
				CampaignID:     10,
				AccountID:      1,
				ImpAmount:      dec("1"),
			},
		},
	})

	admissions, err := CheckRequest(container, sampleRequest(), time.Now())
	require.NoError(err)
	require.Len(admissions, 1)
	require.Equal("imp-1", admissions[0].ImpID)
	require.True(admissions[0].Available)
}

func TestCheckRequestStructuralError(t *testing.T) {
	require := require.New(t)

	container, err := billing.New(billing.ContainerConfig{Logger: log.NoOp()})
	require.NoError(err)

	_, err = CheckRequest(container, sampleRequest(), time.Now())
	require.ErrorIs(err, billing.ErrNoConfig)
}
