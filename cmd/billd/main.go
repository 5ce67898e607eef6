// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/yoori/rtbserver-sub001/pkg/billing"
	"github.com/yoori/rtbserver-sub001/pkg/log"
	"github.com/yoori/rtbserver-sub001/pkg/metric"
	"github.com/yoori/rtbserver-sub001/pkg/rtb"
)

var (
	port           = flag.String("port", "8080", "HTTP port")
	storageRoot    = flag.String("storage-root", "/var/lib/billd", "Snapshot directory")
	reserveTimeout = flag.Duration("reserve-timeout", 30*time.Second, "Reservation expiry")
	dumpInterval   = flag.Duration("dump-interval", time.Minute, "Periodic snapshot dump interval")
	sweepInterval  = flag.Duration("sweep-interval", 5*time.Second, "Expired reservation sweep interval")
	logLevel       = flag.String("log-level", "info", "Log level")
	env            = flag.String("env", "development", "Environment (development/production)")

	// Version info
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	flag.Parse()

	fmt.Printf("billd %s (commit: %s)\n", Version, GitCommit)

	logger := log.NewWithLevel(*logLevel)
	defer logger.Sync()

	metrics, err := metric.NewMetrics()
	if err != nil {
		logger.Fatal("failed to create metrics", "error", err)
	}

	container, err := billing.New(billing.ContainerConfig{
		StorageRoot:    *storageRoot,
		ReserveTimeout: *reserveTimeout,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		logger.Fatal("failed to restore billing state", "error", err)
	}

	if *env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(container, metrics, logger)

	srv := &http.Server{
		Addr:    ":" + *port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", "error", err)
		}
	}()
	logger.Info("billd started", "port", *port, "storage_root", *storageRoot)

	stop := make(chan struct{})
	go runSweeper(container, *sweepInterval, stop)
	go runDumper(container, *dumpInterval, logger, stop)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	close(stop)

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := container.Dump(); err != nil {
		logger.Error("final dump failed", "error", err)
		os.Exit(1)
	}
}

// runSweeper periodically reverts expired reservations.
func runSweeper(container *billing.BillingContainer, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			container.ClearExpiredReservations(now)
		case <-stop:
			return
		}
	}
}

// runDumper periodically snapshots the ledger state. A failed dump is logged
// and retried on the next tick.
func runDumper(container *billing.BillingContainer, interval time.Duration, logger log.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := container.Dump(); err != nil {
				logger.Error("periodic dump failed, will retry next cycle", "error", err)
			}
		case <-stop:
			return
		}
	}
}

type reserveRequest struct {
	Bid    billing.Bid     `json:"bid"`
	Amount decimal.Decimal `json:"amount"`
}

type confirmRequest struct {
	Bid     billing.Bid            `json:"bid"`
	Amounts billing.ConfirmAmounts `json:"amounts"`
	Forced  bool                   `json:"forced"`
}

func setupRouter(container *billing.BillingContainer, metrics *metric.Metrics, logger log.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		metrics.GetGatherer(), promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")

	v1.POST("/bid/check", func(c *gin.Context) {
		var bid billing.Bid
		if err := c.ShouldBindJSON(&bid); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		stampBidTime(&bid)
		result, err := container.CheckAvailableBid(bid)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	v1.POST("/bid/check/openrtb", func(c *gin.Context) {
		var req openrtb2.BidRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		admissions, err := rtb.CheckRequest(container, &req, time.Now())
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": req.ID, "admissions": admissions})
	})

	v1.POST("/bid/reserve", func(c *gin.Context) {
		var req reserveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		stampBidTime(&req.Bid)
		reserved, err := container.ReserveBid(req.Bid, req.Amount)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reserved": reserved})
	})

	v1.POST("/bid/confirm", func(c *gin.Context) {
		var req confirmRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		stampBidTime(&req.Bid)
		result, err := container.ConfirmBid(&req.Amounts, req.Bid, req.Forced)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": result, "amounts": req.Amounts})
	})

	v1.POST("/config", func(c *gin.Context) {
		var cfg billing.Config
		if err := c.ShouldBindJSON(&cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		container.SetConfig(&cfg)
		logger.Info("config updated",
			"accounts", len(cfg.Accounts),
			"campaigns", len(cfg.Campaigns),
			"ccgs", len(cfg.CCGs))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1.POST("/stat", func(c *gin.Context) {
		var stat billing.Stat
		if err := c.ShouldBindJSON(&stat); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		container.SetStat(&stat)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1.POST("/dump", func(c *gin.Context) {
		if err := container.Dump(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

func stampBidTime(bid *billing.Bid) {
	if bid.Time.IsZero() {
		bid.Time = time.Now()
	}
}
