// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package billing

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// reservation is one optimistic budget hold pending auction outcome.
type reservation struct {
	ID         uuid.UUID
	AccountID  uint64
	CampaignID uint64
	CCGID      uint64
	Amount     decimal.Decimal
	Expiry     time.Time
}

// reservationBook tracks outstanding holds. From the ledgers' point of view
// a reservation is already confirmed spend; the book only remembers what to
// revert when a hold expires or is replaced by an authoritative confirm.
type reservationBook struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*reservation
	byCCG map[uint64][]uuid.UUID
}

func newReservationBook() *reservationBook {
	return &reservationBook{
		byID:  make(map[uuid.UUID]*reservation),
		byCCG: make(map[uint64][]uuid.UUID),
	}
}

func (b *reservationBook) add(res *reservation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.byID[res.ID] = res
	b.byCCG[res.CCGID] = append(b.byCCG[res.CCGID], res.ID)
}

// takeOldest removes and returns the oldest outstanding hold for a CCG.
func (b *reservationBook) takeOldest(ccgID uint64) (*reservation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue := b.byCCG[ccgID]
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if res, ok := b.byID[id]; ok {
			delete(b.byID, id)
			b.storeQueue(ccgID, queue)
			return res, true
		}
	}
	b.storeQueue(ccgID, queue)
	return nil, false
}

// takeExpired removes and returns every hold whose expiry has passed, and
// prunes the expired ids from their CCG queues. CCGs that reserve and never
// confirm must not accumulate queued ids for the life of the process.
func (b *reservationBook) takeExpired(now time.Time) []*reservation {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := make(map[uint64]map[uuid.UUID]struct{})
	var expired []*reservation
	for id, res := range b.byID {
		if !res.Expiry.After(now) {
			expired = append(expired, res)
			delete(b.byID, id)
			ids, ok := removed[res.CCGID]
			if !ok {
				ids = make(map[uuid.UUID]struct{})
				removed[res.CCGID] = ids
			}
			ids[id] = struct{}{}
		}
	}
	for ccgID, ids := range removed {
		queue := b.byCCG[ccgID][:0]
		for _, id := range b.byCCG[ccgID] {
			if _, ok := ids[id]; !ok {
				queue = append(queue, id)
			}
		}
		b.storeQueue(ccgID, queue)
	}
	return expired
}

func (b *reservationBook) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID)
}

// storeQueue writes back a CCG's id queue, dropping empty queues.
func (b *reservationBook) storeQueue(ccgID uint64, queue []uuid.UUID) {
	if len(queue) == 0 {
		delete(b.byCCG, ccgID)
		return
	}
	b.byCCG[ccgID] = queue
}
