// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package billing

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Snapshot schema: each amount map lives in its own flat file under the
// storage root. The first line is a header identifying format, version and
// map name; every following line is one JSON record. Files are written to a
// temp path in portions and renamed into place, so a crash mid-dump leaves
// the previous snapshot intact.
const (
	snapshotFormat  = "billing-snapshot"
	snapshotVersion = 1

	// savePortionSize is how many records are buffered between flushes.
	savePortionSize = 1024

	// maxRecordSize bounds a single snapshot line on load.
	maxRecordSize = 4 << 20
)

const (
	fileAccounts  = "accounts"
	fileCampaigns = "campaigns"
	fileCCGs      = "ccgs"
	fileCCGRates  = "ccg_rates"
	fileRateOpts  = "rate_opts"
)

var ErrSnapshotCorrupt = errors.New("billing: corrupt snapshot")

type snapshotHeader struct {
	Format  string `json:"format"`
	Version int    `json:"version"`
	Map     string `json:"map"`
}

// Dump writes every amount map to the storage root. Concurrent dumps are
// serialized; each map's lock is taken only while that map is being copied,
// so bid processing is never blocked for the duration of a full dump. It is
// safe to call again after a failure.
func (c *BillingContainer) Dump() error {
	if c.cfg.StorageRoot == "" {
		return nil
	}

	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()

	start := time.Now()
	if err := os.MkdirAll(c.cfg.StorageRoot, 0o755); err != nil {
		return c.dumpFailed(fmt.Errorf("billing: create storage root: %w", err))
	}

	if err := writeSnapshot(c.cfg.StorageRoot, fileAccounts, c.accounts.snapshot()); err != nil {
		return c.dumpFailed(err)
	}
	if err := writeSnapshot(c.cfg.StorageRoot, fileCampaigns, c.campaigns.snapshot()); err != nil {
		return c.dumpFailed(err)
	}
	if err := writeSnapshot(c.cfg.StorageRoot, fileCCGs, c.ccgs.snapshot()); err != nil {
		return c.dumpFailed(err)
	}
	if err := writeSnapshot(c.cfg.StorageRoot, fileCCGRates, c.rates.snapshot()); err != nil {
		return c.dumpFailed(err)
	}
	if err := writeSnapshot(c.cfg.StorageRoot, fileRateOpts, c.rateOpts.snapshot()); err != nil {
		return c.dumpFailed(err)
	}

	if c.metrics != nil {
		c.metrics.DumpsCompleted.Inc()
		c.metrics.DumpDuration.Observe(time.Since(start).Seconds())
	}
	c.log.Debug("state dumped", "root", c.cfg.StorageRoot, "elapsed", time.Since(start))
	return nil
}

func (c *BillingContainer) dumpFailed(err error) error {
	if c.metrics != nil {
		c.metrics.DumpsFailed.Inc()
	}
	return err
}

// loadStorage restores every amount map present under the storage root.
// Missing files are fine (first start); malformed files are structural
// faults and fail construction.
func (c *BillingContainer) loadStorage() error {
	accounts, err := readSnapshot[amountRecord](c.cfg.StorageRoot, fileAccounts)
	if err != nil {
		return err
	}
	c.accounts.restore(accounts)

	campaigns, err := readSnapshot[amountRecord](c.cfg.StorageRoot, fileCampaigns)
	if err != nil {
		return err
	}
	c.campaigns.restore(campaigns)

	ccgs, err := readSnapshot[amountRecord](c.cfg.StorageRoot, fileCCGs)
	if err != nil {
		return err
	}
	c.ccgs.restore(ccgs)

	rates, err := readSnapshot[rateRecord](c.cfg.StorageRoot, fileCCGRates)
	if err != nil {
		return err
	}
	c.rates.restore(rates)

	rateOpts, err := readSnapshot[rateOptRecord](c.cfg.StorageRoot, fileRateOpts)
	if err != nil {
		return err
	}
	c.rateOpts.restore(rateOpts)
	return nil
}

// RemoveStorage deletes the snapshot files, used when a deployment retires
// a storage root.
func (c *BillingContainer) RemoveStorage() error {
	if c.cfg.StorageRoot == "" {
		return nil
	}
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()

	for _, name := range []string{fileAccounts, fileCampaigns, fileCCGs, fileCCGRates, fileRateOpts} {
		if err := os.Remove(filepath.Join(c.cfg.StorageRoot, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("billing: remove snapshot %s: %w", name, err)
		}
	}
	return nil
}

func writeSnapshot[T any](root, name string, records []T) error {
	path := filepath.Join(root, name)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("billing: create snapshot %s: %w", name, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	header := snapshotHeader{Format: snapshotFormat, Version: snapshotVersion, Map: name}
	if err := enc.Encode(header); err != nil {
		return fmt.Errorf("billing: write snapshot %s: %w", name, err)
	}
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("billing: write snapshot %s: %w", name, err)
		}
		if (i+1)%savePortionSize == 0 {
			if err := w.Flush(); err != nil {
				return fmt.Errorf("billing: write snapshot %s: %w", name, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("billing: write snapshot %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("billing: sync snapshot %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("billing: close snapshot %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("billing: publish snapshot %s: %w", name, err)
	}
	return nil
}

func readSnapshot[T any](root, name string) ([]T, error) {
	f, err := os.Open(filepath.Join(root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("billing: open snapshot %s: %w", name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordSize)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("billing: read snapshot %s: %w", name, err)
		}
		return nil, fmt.Errorf("%w: %s is empty", ErrSnapshotCorrupt, name)
	}
	var header snapshotHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return nil, fmt.Errorf("%w: %s header: %v", ErrSnapshotCorrupt, name, err)
	}
	if header.Format != snapshotFormat || header.Map != name {
		return nil, fmt.Errorf("%w: %s header mismatch", ErrSnapshotCorrupt, name)
	}
	if header.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: %s has unsupported version %d", ErrSnapshotCorrupt, name, header.Version)
	}

	var records []T
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%w: %s record %d: %v", ErrSnapshotCorrupt, name, len(records)+1, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("billing: read snapshot %s: %w", name, err)
	}
	return records, nil
}
