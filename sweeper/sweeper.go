package sweeper

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/cppla/filedrop/ledger"
	"github.com/cppla/filedrop/registry"
	"github.com/cppla/filedrop/utils"
)

// batchSize caps how many records one sweep touches per phase; leftovers are
// picked up on the next tick.
const batchSize = 500

// Store is the slice of the artifact store the sweeper needs.
type Store interface {
	Delete(locator string) error
}

// Sweeper drives the two-phase lifecycle in the background: expired records are
// soft deleted and their bytes removed, then records inactive longer than the
// retention window are hard deleted together with stale download logs.
//
// A single deployment runs one sweeper; coordinating several instances would
// need an external lock and is out of scope here.
type Sweeper struct {
	reg   *registry.Registry
	led   *ledger.Ledger
	store Store

	interval     time.Duration
	retention    time.Duration
	logRetention time.Duration

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// New assembles a sweeper. Intervals and retention windows come from configuration.
func New(reg *registry.Registry, led *ledger.Ledger, store Store, interval, retention, logRetention time.Duration) *Sweeper {
	return &Sweeper{
		reg:          reg,
		led:          led,
		store:        store,
		interval:     interval,
		retention:    retention,
		logRetention: logRetention,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start runs one sweep immediately and then sweeps on every tick until Stop is
// called. A tick that fires while a sweep is still in flight is skipped, not
// queued; the next tick gets its own chance.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		s.Sweep()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the background loop and waits for it to exit. An in-flight
// sweep finishes its current pass.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

// Sweep executes one cleanup pass. It returns false without doing anything when
// another sweep is already running; the guard is a compare-and-set so two
// concurrent callers can never both enter the body.
func (s *Sweeper) Sweep() bool {
	if !s.running.CompareAndSwap(false, true) {
		utils.Sugar.Debug("sweep already running, skipping")
		return false
	}
	defer s.running.Store(false)

	now := time.Now()
	s.sweepExpired(now)
	s.purgeStaleLogs(now)
	s.purgeRetired(now)
	return true
}

// sweepExpired soft deletes records past expiry. Bytes are removed before the
// record is marked inactive: both steps are idempotent, so a crash in between
// is repaired by the next sweep.
func (s *Sweeper) sweepExpired(now time.Time) {
	expired, err := s.reg.ExpiredActive(now, batchSize)
	if err != nil {
		utils.Sugar.Errorf("sweep: query expired files failed: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	var marked int
	for _, rec := range expired {
		if err := s.store.Delete(rec.StoragePath); err != nil {
			// Leave the record active so the delete is retried next sweep.
			utils.Sugar.Errorf("sweep: delete bytes for %s failed: %v", rec.UUID, err)
			continue
		}
		switch err := s.reg.MarkInactive(rec.UUID); {
		case err == nil:
			marked++
		case errors.Is(err, registry.ErrAlreadyInactive):
			// Raced with an owner delete; nothing left to do.
		case errors.Is(err, registry.ErrNotFound):
			// Raced with a purge; nothing left to do.
		default:
			utils.Sugar.Errorf("sweep: mark %s inactive failed: %v", rec.UUID, err)
		}
	}
	utils.Sugar.Infof("sweep: %d expired files found, %d marked inactive", len(expired), marked)
}

// purgeStaleLogs drops download log entries older than the log retention window.
func (s *Sweeper) purgeStaleLogs(now time.Time) {
	n, err := s.led.PurgeOlderThan(now.Add(-s.logRetention))
	if err != nil {
		utils.Sugar.Errorf("sweep: purge download logs failed: %v", err)
		return
	}
	if n > 0 {
		utils.Sugar.Infof("sweep: purged %d stale download log entries", n)
	}
}

// purgeRetired hard deletes records that have been inactive for the full
// retention window. The gap between soft and hard delete leaves a grace period
// for audit and support lookups.
func (s *Sweeper) purgeRetired(now time.Time) {
	stale, err := s.reg.InactiveSince(now.Add(-s.retention), batchSize)
	if err != nil {
		utils.Sugar.Errorf("sweep: query retired records failed: %v", err)
		return
	}
	var purged int
	for _, rec := range stale {
		if err := s.reg.Purge(rec.UUID); err != nil {
			utils.Sugar.Errorf("sweep: purge %s failed: %v", rec.UUID, err)
			continue
		}
		purged++
	}
	if purged > 0 {
		utils.Sugar.Infof("sweep: purged %d retired file records", purged)
	}
}
