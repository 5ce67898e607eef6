// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// The expiry sweep must prune swept ids from the per-CCG queues: a CCG that
// reserves and never confirms would otherwise grow its queue without bound.
func TestSweepPrunesReservationQueues(t *testing.T) {
	require := require.New(t)
	b := newReservationBook()

	for i := 0; i < 3; i++ {
		b.add(&reservation{ID: uuid.New(), CCGID: 100, Amount: dec("1"), Expiry: testTime})
	}
	b.add(&reservation{ID: uuid.New(), CCGID: 100, Amount: dec("1"), Expiry: testTime.Add(time.Hour)})

	expired := b.takeExpired(testTime.Add(time.Minute))
	require.Len(expired, 3)
	require.Equal(1, b.len())
	require.Len(b.byCCG[100], 1, "expired ids left queued: %d", len(b.byCCG[100]))

	expired = b.takeExpired(testTime.Add(2 * time.Hour))
	require.Len(expired, 1)
	require.Empty(b.byCCG)
}
