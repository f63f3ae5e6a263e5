package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/mailgun/holster/v4/syncutil"
	"github.com/ssgreg/repeat"

	"github.com/TxnLab/reti-core/api"
	"github.com/TxnLab/reti-core/internal/lib/chain"
	"github.com/TxnLab/reti-core/internal/lib/misc"
	"github.com/TxnLab/reti-core/internal/lib/reti"
)

// Daemon drives the permissionless epoch triggers for this node's pools on
// schedule, refreshes the prometheus gauges, and serves the query API.
type Daemon struct {
	logger   *slog.Logger
	protocol *reti.Protocol
	port     uint64

	// embed mutex for locking state for members below the mutex
	sync.RWMutex
	info *NodeInfo
}

func newDaemon(port uint64) (*Daemon, error) {
	info, err := LoadNodeInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to load node info: %w", err)
	}
	return &Daemon{
		logger:   App.logger,
		protocol: App.protocol,
		port:     port,
		info:     info,
	}, nil
}

func (d *Daemon) nodeInfo() *NodeInfo {
	d.RLock()
	defer d.RUnlock()
	return d.info
}

func (d *Daemon) start(ctx context.Context, wg *sync.WaitGroup) {
	d.logger.Info("Starting Réti daemon")

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.EpochUpdater(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.MetricsRefresher(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.serveAPI(ctx)
	}()
}

// EpochUpdater triggers the epoch balance update for each of this node's
// pools, aligned to wall-clock epoch boundaries.  Transient failures retry
// with jittered backoff; a not-yet-elapsed epoch just waits for the next
// boundary.
func (d *Daemon) EpochUpdater(ctx context.Context) {
	defer d.logger.Info("Exiting EpochUpdater")
	d.logger.Info("Starting EpochUpdater")

	for {
		epochMinutes, err := d.epochMinutes()
		if err != nil {
			misc.Warnf(d.logger, "unable to determine epoch length, retrying in a minute: %v", err)
			epochMinutes = 1
		}
		dur := durationToNextEpoch(time.Now(), epochMinutes)
		misc.Debugf(d.logger, "sleeping %v until next epoch boundary", dur)
		select {
		case <-ctx.Done():
			return
		case <-time.After(dur):
			// Make sure our 'config' is fresh in case the user updated it
			if err := d.refetchConfig(); err != nil {
				break // try again next boundary
			}
			d.updatePools()
		}
	}
}

func (d *Daemon) epochMinutes() (int, error) {
	info := d.nodeInfo()
	var config reti.ValidatorConfig
	err := d.protocol.Env().View(func(tx *chain.Txn) error {
		var err error
		config, err = d.protocol.Registry().GetValidatorConfig(tx, info.ValidatorID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(config.PayoutEveryXMins), nil
}

func (d *Daemon) updatePools() {
	info := d.nodeInfo()
	managerAddr, err := types.DecodeAddress(info.Manager)
	if err != nil {
		misc.Errorf(d.logger, "bad manager address in node config: %v", err)
		return
	}
	for _, appID := range info.LocalPools {
		poolAppID := appID
		err := repeat.Repeat(
			repeat.Fn(func() error {
				err := d.protocol.Env().Execute(managerAddr, func(tx *chain.Txn) error {
					pool, err := d.protocol.Pool(tx, poolAppID)
					if err != nil {
						return err
					}
					result, err := pool.EpochBalanceUpdate(tx)
					if err != nil {
						return err
					}
					misc.Infof(d.logger, "pool app id:%d epoch %d updated, %d algo credited",
						poolAppID, result.EpochNumber, result.AlgoCredited)
					return nil
				})
				if err == nil {
					return nil
				}
				// interval gating and the reward floor aren't transient -
				// nothing to retry until next epoch boundary
				if errors.Is(err, reti.ErrEpochNotElapsed) || errors.Is(err, reti.ErrNotEnoughRewardAvailable) {
					misc.Infof(d.logger, "pool app id:%d epoch update skipped: %v", poolAppID, err)
					return nil
				}
				return repeat.HintTemporary(err)
			}),
			repeat.StopOnSuccess(),
			repeat.LimitMaxTries(10),
			repeat.FnOnError(func(err error) error {
				misc.Warnf(d.logger, "retrying epoch update of pool app id:%d, error:%v", poolAppID, err)
				return err
			}),
			repeat.WithDelay(
				repeat.SetContextHintStop(),
				(&repeat.FullJitterBackoffBuilder{
					BaseDelay: 5 * time.Second,
					MaxDelay:  10 * time.Second,
				}).Set(),
			),
		)
		if err != nil {
			misc.Errorf(d.logger, "epoch update failed for pool app id:%d, error:%v", poolAppID, err)
		}
	}
}

// MetricsRefresher republishes the prometheus gauges once a minute, reading
// each pool's reward surplus concurrently.
func (d *Daemon) MetricsRefresher(ctx context.Context) {
	defer d.logger.Info("Exiting MetricsRefresher")

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Minute):
			if err := d.refreshMetrics(); err != nil {
				misc.Warnf(d.logger, "metrics refresh error: %v", err)
			}
		}
	}
}

func (d *Daemon) refreshMetrics() error {
	info := d.nodeInfo()

	var state reti.ValidatorCurState
	err := d.protocol.Env().View(func(tx *chain.Txn) error {
		var err error
		state, err = d.protocol.Registry().GetValidatorState(tx, info.ValidatorID)
		return err
	})
	if err != nil {
		return err
	}

	var (
		fanOut     = syncutil.NewFanOut(10)
		mu         sync.Mutex
		totalAvail uint64
	)
	for _, appID := range info.LocalPools {
		fanOut.Run(func(val any) error {
			poolAppID := val.(uint64)
			return d.protocol.Env().View(func(tx *chain.Txn) error {
				pool, err := d.protocol.Pool(tx, poolAppID)
				if err != nil {
					return err
				}
				avail := pool.AvailableRewards(tx)
				mu.Lock()
				totalAvail += avail
				mu.Unlock()
				return nil
			})
		}, appID)
	}
	if errs := fanOut.Wait(); len(errs) > 0 {
		return errs[0]
	}
	reti.UpdateMetricsFromState(state, totalAvail)
	return nil
}

func (d *Daemon) serveAPI(ctx context.Context) {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", d.port),
		Handler: api.New(d.protocol),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	misc.Infof(d.logger, "query api listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		misc.Errorf(d.logger, "api server error: %v", err)
	}
}

func (d *Daemon) refetchConfig() error {
	return repeat.Repeat(
		repeat.Fn(func() error {
			info, err := LoadNodeInfo()
			if err != nil {
				return repeat.HintTemporary(err)
			}
			d.Lock()
			d.info = info
			d.Unlock()
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(10),
		repeat.FnOnError(func(err error) error {
			d.logger.Warn("retrying fetch of node info", "error", err.Error())
			return err
		}),
		repeat.WithDelay(
			repeat.SetContextHintStop(),
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: 5 * time.Second,
				MaxDelay:  10 * time.Second,
			}).Set(),
		),
	)
}

// durationToNextEpoch returns how long until the next wall-clock-aligned
// epoch boundary (epochs count from midnight UTC).
func durationToNextEpoch(curTime time.Time, epochMinutes int) time.Duration {
	epoch := time.Duration(epochMinutes) * time.Minute
	next := curTime.Truncate(epoch).Add(epoch)
	return next.Sub(curTime)
}
