// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package billing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yoori/rtbserver-sub001/pkg/log"
)

func newStoredContainer(t *testing.T, root string, cfg *Config) *BillingContainer {
	t.Helper()
	c, err := New(ContainerConfig{StorageRoot: root, Logger: log.NoOp()})
	require.NoError(t, err)
	c.SetConfig(cfg)
	return c
}

// A dump followed by a fresh load yields identical admission decisions.
func TestDumpLoadIdempotence(t *testing.T) {
	require := require.New(t)
	root := t.TempDir()

	c1 := newStoredContainer(t, root, ctrTestConfig())
	seedCTRHistory(c1, localDayIndex(testTime, 0))

	// Spend most of the account budget and leave a goaled trace.
	bid := testBid()
	bid.OptimizeCampaignCTR = true
	bid.CTR = dec("0.7")
	amounts := &ConfirmAmounts{AccountAmount: dec("60"), Amount: dec("60"), Imps: dec("60")}
	_, err := c1.ConfirmBid(amounts, bid, false)
	require.NoError(err)

	require.NoError(c1.Dump())

	c2 := newStoredContainer(t, root, ctrTestConfig())

	probes := []Bid{
		testBid(),
		{Time: testTime, AccountID: 1, CampaignID: 10, CCGID: 100, CTR: dec("0.3"), OptimizeCampaignCTR: true},
		{Time: testTime, AccountID: 1, CampaignID: 10, CCGID: 100, CTR: dec("0.9"), OptimizeCampaignCTR: true},
	}
	for i, probe := range probes {
		r1, err := c1.CheckAvailableBid(probe)
		require.NoError(err)
		r2, err := c2.CheckAvailableBid(probe)
		require.NoError(err)
		require.Equal(r1.Available, r2.Available, "probe %d availability", i)
		require.Equal(r1.GoalCTR.Valid, r2.GoalCTR.Valid, "probe %d goal validity", i)
		if r1.GoalCTR.Valid {
			require.True(r1.GoalCTR.Decimal.Equal(r2.GoalCTR.Decimal), "probe %d goal rate", i)
		}
	}

	requireSameState(t, ledgerState(c1, testBid()), ledgerState(c2, testBid()))
}

func TestDumpIsRecallable(t *testing.T) {
	require := require.New(t)
	root := t.TempDir()

	c := newStoredContainer(t, root, testConfig())
	amounts := &ConfirmAmounts{AccountAmount: dec("10"), Amount: dec("10")}
	_, err := c.ConfirmBid(amounts, testBid(), false)
	require.NoError(err)

	require.NoError(c.Dump())
	require.NoError(c.Dump())
}

func TestLoadRejectsCorruptHeader(t *testing.T) {
	require := require.New(t)
	root := t.TempDir()

	require.NoError(os.WriteFile(filepath.Join(root, fileAccounts), []byte("not a header\n"), 0o644))

	_, err := New(ContainerConfig{StorageRoot: root, Logger: log.NoOp()})
	require.ErrorIs(err, ErrSnapshotCorrupt)
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	require := require.New(t)
	root := t.TempDir()

	header := `{"format":"billing-snapshot","version":99,"map":"accounts"}` + "\n"
	require.NoError(os.WriteFile(filepath.Join(root, fileAccounts), []byte(header), 0o644))

	_, err := New(ContainerConfig{StorageRoot: root, Logger: log.NoOp()})
	require.ErrorIs(err, ErrSnapshotCorrupt)
}

func TestLoadMissingFilesIsFreshStart(t *testing.T) {
	require := require.New(t)

	c, err := New(ContainerConfig{StorageRoot: t.TempDir(), Logger: log.NoOp()})
	require.NoError(err)
	c.SetConfig(testConfig())

	result, err := c.CheckAvailableBid(testBid())
	require.NoError(err)
	require.True(result.Available)
}

func TestRemoveStorage(t *testing.T) {
	require := require.New(t)
	root := t.TempDir()

	c := newStoredContainer(t, root, testConfig())
	require.NoError(c.Dump())
	require.FileExists(filepath.Join(root, fileAccounts))

	require.NoError(c.RemoveStorage())
	require.NoFileExists(filepath.Join(root, fileAccounts))

	// Removing an already-empty root is fine.
	require.NoError(c.RemoveStorage())
}
