package workers

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"piobridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// SourceChain is what an agent needs from the lock ledger
type SourceChain interface {
	HeadBlock(ctx context.Context) (uint64, error)
	LockedEvents(ctx context.Context, from, to uint64) ([]*types.LockedEvent, error)
	GetLock(ctx context.Context, lockID common.Hash) (*types.LockRecord, error)
	HasApprovedLock(ctx context.Context, lockID common.Hash, validator common.Address) (bool, error)
	SubmitApproveLock(ctx context.Context, lockID common.Hash) (common.Hash, error)
	WaitConfirmed(ctx context.Context, txHash common.Hash) (*types.TxReceipt, error)
}

// DestinationChain is what an agent needs from the mint ledger
type DestinationChain interface {
	ApprovalCount(ctx context.Context, lockID common.Hash) (uint64, error)
	HasApproved(ctx context.Context, lockID common.Hash, validator common.Address) (bool, error)
	SubmitApproveMint(ctx context.Context, lockID common.Hash, to common.Address, amount *big.Int) (common.Hash, error)
	WaitConfirmed(ctx context.Context, txHash common.Hash) (*types.TxReceipt, error)
	GasBalance(ctx context.Context, addr common.Address) (*big.Int, error)
}

const (
	StateIdle       = "idle"
	StatePolling    = "polling"
	StateEvaluating = "evaluating"
	StateSubmitting = "submitting"
	StateAwaiting   = "awaiting_confirmation"
)

const (
	evPoll     = "poll"
	evEvaluate = "evaluate"
	evSubmit   = "submit"
	evAwait    = "await"
	evDone     = "done"
	evIdle     = "idle"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultWindowSize   = 100
)

// returned while a gated agent waits for the source quorum, the event is retried
var errAwaitingFinality = errors.New("lock not finalized on source yet")

type AgentConfig struct {
	Validator    common.Address
	Threshold    int
	PollInterval time.Duration
	WindowSize   uint64
	// approve on the destination only once the lock is finalized on the source
	RequireSourceFinality bool
	Security              SecurityPolicy
	// below this native balance on the destination the agent warns, nil disables the check
	MinGasBalance *big.Int
}

// Agent is the relayer of one validator identity. It shares nothing with the other
// agents, they only meet through ledger state.
type Agent struct {
	cfg     AgentConfig
	src     SourceChain
	dst     DestinationChain
	markers MarkerStore
	alerts  AlertSink
	logger  *zap.Logger
	state   *fsm.FSM

	// one poll or backfill at a time, one in-flight approval
	runMu sync.Mutex

	mu         sync.Mutex
	retry      map[types.EventMarker]*types.LockedEvent
	gaps       []BlockRange
	lastSeen   uint64
	processed  uint64
	failures   uint64
	gas        *big.Int
	lowGas     bool
	lastErr    string
	lastPolled int64
}

func NewAgent(cfg AgentConfig, src SourceChain, dst DestinationChain, markers MarkerStore, alerts AlertSink, logger *zap.Logger) *Agent {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = types.DefaultThreshold
	}
	if markers == nil {
		markers = NewMemoryMarkers()
	}
	if alerts == nil {
		alerts = NewMemoryAlerts(0)
	}

	a := &Agent{
		cfg:     cfg,
		src:     src,
		dst:     dst,
		markers: markers,
		alerts:  alerts,
		logger:  logger.With(zap.String("validator", cfg.Validator.Hex())),
		retry:   make(map[types.EventMarker]*types.LockedEvent),
	}

	a.state = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: evPoll, Src: []string{StateIdle}, Dst: StatePolling},
			{Name: evEvaluate, Src: []string{StatePolling, StateSubmitting, StateAwaiting}, Dst: StateEvaluating},
			{Name: evSubmit, Src: []string{StateEvaluating}, Dst: StateSubmitting},
			{Name: evAwait, Src: []string{StateSubmitting}, Dst: StateAwaiting},
			{Name: evDone, Src: []string{StateEvaluating, StateSubmitting, StateAwaiting}, Dst: StatePolling},
			{Name: evIdle, Src: []string{StatePolling, StateEvaluating, StateSubmitting, StateAwaiting}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(e *fsm.Event) {
				a.logger.Debug("agent state", zap.String("from", e.Src), zap.String("to", e.Dst))
			},
		},
	)

	return a
}

func (a *Agent) Validator() common.Address { return a.cfg.Validator }

func (a *Agent) State() string { return a.state.Current() }

func (a *Agent) transition(event string) {
	if err := a.state.Event(event); err != nil {
		a.logger.Debug("state transition skipped", zap.String("event", event), zap.String("state", a.state.Current()), zap.Error(err))
	}
}

// Run polls every PollInterval until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("validator agent started",
		zap.Duration("interval", a.cfg.PollInterval),
		zap.Uint64("window", a.cfg.WindowSize),
		zap.Bool("requireSourceFinality", a.cfg.RequireSourceFinality))

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := a.Poll(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			a.logger.Info("validator agent stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// process runs events (plus those left for retry) one by one. Only a cancelled
// context aborts it, per event failures are recorded and retried on the next cycle.
func (a *Agent) process(ctx context.Context, events []*types.LockedEvent) error {
	fresh, err := SelectNew(events, a.markers.IsProcessed)
	if err != nil {
		return fmt.Errorf("marker lookup: %w", err)
	}

	a.mu.Lock()
	batch := make([]*types.LockedEvent, 0, len(fresh)+len(a.retry))
	for _, ev := range fresh {
		if _, ok := a.retry[ev.Marker()]; !ok {
			lockedEventsObserved.WithLabelValues(a.cfg.Validator.Hex()).Inc()
		}
		a.retry[ev.Marker()] = ev
	}
	for _, ev := range a.retry {
		batch = append(batch, ev)
	}
	a.mu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].BlockNumber != batch[j].BlockNumber {
			return batch[i].BlockNumber < batch[j].BlockNumber
		}
		return batch[i].LogIndex < batch[j].LogIndex
	})

	for _, ev := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}

		// an earlier cycle may have settled it already
		done, err := a.markers.IsProcessed(ev.Marker())
		if err != nil {
			return fmt.Errorf("marker lookup: %w", err)
		}
		if done {
			a.forget(ev)
			continue
		}

		a.transition(evEvaluate)
		err = a.processEvent(ctx, ev)
		a.transition(evDone)

		switch {
		case err == nil:
			a.forget(ev)
		case errors.Is(err, errAwaitingFinality):
			a.logger.Debug("waiting for source finality", zap.String("lockId", ev.LockID.Hex()))
		default:
			a.recordFailure(err)
			transientFailures.WithLabelValues(a.cfg.Validator.Hex()).Inc()
			a.logger.Warn("event left for retry",
				zap.String("lockId", ev.LockID.Hex()),
				zap.Stringer("marker", ev.Marker()),
				zap.Error(err))
		}
	}

	return nil
}

func (a *Agent) forget(ev *types.LockedEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.retry, ev.Marker())
}

func (a *Agent) recordFailure(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures++
	a.lastErr = err.Error()
}

func (a *Agent) raise(alertType string, data map[string]string) {
	alert := NewAlert(alertType, a.cfg.Validator.Hex(), data)
	securityAlerts.WithLabelValues(a.cfg.Validator.Hex(), alertType).Inc()
	a.logger.Warn("security alert",
		zap.String("type", alert.Type),
		zap.String("severity", alert.Severity),
		zap.Any("data", alert.Data))
	if err := a.alerts.Raise(alert); err != nil {
		a.logger.Error("failed to record security alert", zap.String("id", alert.ID), zap.Error(err))
	}
}

func (a *Agent) checkGasBalance(ctx context.Context) {
	bal, err := a.dst.GasBalance(ctx, a.cfg.Validator)
	if err != nil {
		a.logger.Warn("failed to get gas balance", zap.Error(err))
		return
	}
	low := a.cfg.MinGasBalance != nil && bal.Cmp(a.cfg.MinGasBalance) < 0

	a.mu.Lock()
	wasLow := a.lowGas
	a.gas = bal
	a.lowGas = low
	a.mu.Unlock()

	f, _ := new(big.Float).SetInt(bal).Float64()
	gasBalance.WithLabelValues(a.cfg.Validator.Hex()).Set(f)

	if low && !wasLow {
		a.raise(types.AlertLowGasBalance, map[string]string{
			"balance": bal.String(),
			"minimum": a.cfg.MinGasBalance.String(),
		})
	}
}

// Gaps returns block ranges skipped by polling and not backfilled yet
func (a *Agent) Gaps() []BlockRange {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]BlockRange(nil), a.gaps...)
}

func (a *Agent) Status() types.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := types.AgentStatus{
		Validator:   a.cfg.Validator.Hex(),
		State:       a.state.Current(),
		LastSeen:    a.lastSeen,
		Processed:   a.processed,
		Failures:    a.failures,
		LowGas:      a.lowGas,
		LastError:   a.lastErr,
		LastPolled:  a.lastPolled,
		PendingGaps: len(a.gaps),
		Retrying:    len(a.retry),
	}
	if a.gas != nil {
		st.GasBalance = a.gas.String()
	}
	return st
}
