package workers

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"piobridge/ledger"
	"piobridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testValidators = []common.Address{
		common.HexToAddress("0xbeFA429d57cD18b7F8A4d91A2da9AB4AF05d0FBe"),
		common.HexToAddress("0x88D7D8B32a9105d228100E72dFFe2Fae0705D31c"),
		common.HexToAddress("0x58076F561CC62A47087B567C86f986426dFCD000"),
		common.HexToAddress("0xBd6e9833490F8fA87c733A183CD076a6cBD29074"),
		common.HexToAddress("0xb853FCF0a5C78C1b56D15fCE7a154e6ebe9ED7a2"),
	}
	testUser = common.HexToAddress("0xAF3503dBD2E37518ab04D7CE78b630F98b15b78a")
	testDest = common.HexToAddress("0x785632deA5609064803B1c8EA8bB2c77a6004Bd1")
	testAlt  = common.HexToAddress("0x09a281a698C0F5BA31f158585B41F4f33659e54D")
)

type fixture struct {
	net     *ledger.Devnet
	clock   *ledger.ManualClock
	alerts  *MemoryAlerts
	markers []*MemoryMarkers
	agents  []*Agent
	fleet   *Fleet
}

func newDevnet(t *testing.T) (*ledger.Devnet, *ledger.ManualClock) {
	t.Helper()
	clock := ledger.NewManualClock(time.Unix(1700000000, 0))
	net, err := ledger.NewDevnet(ledger.DevnetConfig{
		Validators:     testValidators,
		Threshold:      types.DefaultThreshold,
		RollbackWindow: time.Hour,
		SourceChainID:  5080,
		DestChainID:    11155111,
		Clock:          clock,
	})
	require.NoError(t, err)
	return net, clock
}

func testAgentConfig(validator common.Address, gated bool) AgentConfig {
	return AgentConfig{
		Validator:             validator,
		Threshold:             types.DefaultThreshold,
		PollInterval:          10 * time.Millisecond,
		WindowSize:            DefaultWindowSize,
		RequireSourceFinality: gated,
		Security:              DefaultSecurityPolicy(),
	}
}

// newFixture runs one agent per committee member over an in-process devnet
func newFixture(t *testing.T, gated bool) *fixture {
	t.Helper()
	net, clock := newDevnet(t)
	f := &fixture{net: net, clock: clock, alerts: NewMemoryAlerts(0)}

	for _, v := range testValidators {
		m := NewMemoryMarkers()
		f.markers = append(f.markers, m)
		f.agents = append(f.agents, NewAgent(testAgentConfig(v, gated), net.SourceClient(v), net.DestinationClient(v), m, f.alerts, zap.NewNop()))
	}
	f.fleet = NewFleet(f.agents...)
	return f
}

func (f *fixture) deposit(t *testing.T, amount *big.Int, to common.Address) common.Hash {
	t.Helper()
	lockID, err := f.net.Deposit(context.Background(), testUser, amount, to.Hex())
	require.NoError(t, err)
	return lockID
}

func statuses(t *testing.T, stores []*MemoryMarkers) map[string]int {
	t.Helper()
	res := make(map[string]int)
	for _, m := range stores {
		recs, err := m.Records()
		require.NoError(t, err)
		for _, r := range recs {
			res[r.Status]++
		}
	}
	return res
}

func alertsOfType(t *testing.T, m *MemoryAlerts, alertType string) []*types.SecurityAlert {
	t.Helper()
	all, err := m.Recent(0)
	require.NoError(t, err)
	res := make([]*types.SecurityAlert, 0)
	for _, a := range all {
		if a.Type == alertType {
			res = append(res, a)
		}
	}
	return res
}

func TestFleetRelaysLockGated(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	lockID := f.deposit(t, ether(10), testDest)

	require.NoError(t, f.fleet.PollAll(ctx))

	// the third source approval finalizes the lock, the last three agents approve the mint
	assert.True(t, f.net.Destination.Minted(lockID))
	assert.Equal(t, ether(10).String(), f.net.Destination.BalanceOf(testDest).String())
	assert.Equal(t, map[string]int{types.RelayStatusApproved: 3}, statuses(t, f.markers))
	assert.Equal(t, 1, f.agents[0].Status().Retrying)

	require.NoError(t, f.fleet.PollAll(ctx))
	assert.Equal(t, map[string]int{types.RelayStatusApproved: 3, types.RelayStatusSettled: 2}, statuses(t, f.markers))

	lock, err := f.net.Source.GetLock(lockID)
	require.NoError(t, err)
	assert.True(t, lock.Finalized)
	assert.Equal(t, uint64(3), lock.ApprovalCount)
	assert.Equal(t, uint64(3), f.net.Destination.ApprovalCount(lockID))

	for _, a := range f.agents {
		st := a.Status()
		assert.Equal(t, StateIdle, st.State)
		assert.Equal(t, 0, st.Retrying)
		assert.Equal(t, uint64(1), st.Processed)
	}
	assert.Empty(t, alertsOfType(t, f.alerts, types.AlertApprovalConflict))
}

func TestFleetRelaysLockUngated(t *testing.T) {
	f := newFixture(t, false)
	lockID := f.deposit(t, ether(10), testDest)

	require.NoError(t, f.fleet.PollAll(context.Background()))

	assert.True(t, f.net.Destination.Minted(lockID))
	assert.Equal(t, map[string]int{types.RelayStatusApproved: 3, types.RelayStatusSettled: 2}, statuses(t, f.markers))

	lock, err := f.net.Source.GetLock(lockID)
	require.NoError(t, err)
	assert.True(t, lock.Finalized)
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	lockID := f.deposit(t, ether(10), testDest)

	require.NoError(t, f.fleet.PollAll(ctx))
	srcHead := f.net.Source.Chain().HeadBlock()
	dstHead := f.net.Destination.Chain().HeadBlock()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.fleet.PollAll(ctx))
	}

	assert.Equal(t, srcHead, f.net.Source.Chain().HeadBlock())
	assert.Equal(t, dstHead, f.net.Destination.Chain().HeadBlock())
	assert.Equal(t, ether(10).String(), f.net.Destination.BalanceOf(testDest).String())
	assert.Equal(t, uint64(3), f.net.Destination.ApprovalCount(lockID))
	for _, a := range f.agents {
		assert.Equal(t, uint64(1), a.Status().Processed)
	}
}

func TestLostMarkersDoNotDoubleApprove(t *testing.T) {
	net, _ := newDevnet(t)
	ctx := context.Background()
	v := testValidators[0]

	lockID, err := net.Deposit(ctx, testUser, ether(10), testDest.Hex())
	require.NoError(t, err)

	first := NewAgent(testAgentConfig(v, false), net.SourceClient(v), net.DestinationClient(v), nil, nil, zap.NewNop())
	require.NoError(t, first.Poll(ctx))
	require.True(t, net.Destination.HasApproved(lockID, v))
	dstHead := net.Destination.Chain().HeadBlock()

	// a restart with an empty store sees the event again
	markers := NewMemoryMarkers()
	restarted := NewAgent(testAgentConfig(v, false), net.SourceClient(v), net.DestinationClient(v), markers, nil, zap.NewNop())
	require.NoError(t, restarted.Poll(ctx))

	assert.Equal(t, dstHead, net.Destination.Chain().HeadBlock())
	recs, err := markers.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.RelayStatusAlreadyApproved, recs[0].Status)
}

func TestConflictingTupleRaisesAlert(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	lockID := f.deposit(t, ether(10), testDest)

	// a misbehaving committee member fixes a different recipient first
	rogue := testValidators[4]
	_, err := f.net.DestinationClient(rogue).SubmitApproveMint(ctx, lockID, testAlt, ether(10))
	require.NoError(t, err)

	for _, a := range f.agents[:4] {
		require.NoError(t, a.Poll(ctx))
	}

	assert.False(t, f.net.Destination.Minted(lockID))
	assert.Equal(t, "0", f.net.Destination.BalanceOf(testDest).String())
	assert.Equal(t, map[string]int{types.RelayStatusConflict: 4}, statuses(t, f.markers[:4]))

	conflicts := alertsOfType(t, f.alerts, types.AlertApprovalConflict)
	require.Len(t, conflicts, 4)
	assert.Equal(t, types.SeverityHigh, conflicts[0].Severity)
	assert.Equal(t, lockID.Hex(), conflicts[0].Data["lockId"])
	assert.Equal(t, testDest.Hex(), conflicts[0].Data["to"])
}

func TestRolledBackLockIsStale(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	lockID := f.deposit(t, ether(10), testDest)

	f.clock.Advance(time.Hour + time.Second)
	require.NoError(t, f.net.SourceClient(testUser).Rollback(ctx, lockID))

	require.NoError(t, f.fleet.PollAll(ctx))

	assert.Equal(t, map[string]int{types.RelayStatusStale: 5}, statuses(t, f.markers))
	assert.Equal(t, uint64(0), f.net.Destination.ApprovalCount(lockID))
}

func TestRollbackRacingApprovals(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	lockID := f.deposit(t, ether(10), testDest)

	// two approvals, then the sender takes the funds back
	require.NoError(t, f.agents[0].Poll(ctx))
	require.NoError(t, f.agents[1].Poll(ctx))
	f.clock.Advance(time.Hour + time.Second)
	require.NoError(t, f.net.SourceClient(testUser).Rollback(ctx, lockID))

	require.NoError(t, f.fleet.PollAll(ctx))

	assert.Equal(t, map[string]int{types.RelayStatusStale: 5}, statuses(t, f.markers))
	assert.False(t, f.net.Destination.Minted(lockID))
	assert.Equal(t, uint64(0), f.net.Destination.ApprovalCount(lockID))
}

// flakyDestination fails the first approveMint submissions like an unreachable RPC
type flakyDestination struct {
	*ledger.DestinationClient
	failures int
	calls    int
}

func (d *flakyDestination) SubmitApproveMint(ctx context.Context, lockID common.Hash, to common.Address, amount *big.Int) (common.Hash, error) {
	d.calls++
	if d.calls <= d.failures {
		return common.Hash{}, errors.New("connection reset by peer")
	}
	return d.DestinationClient.SubmitApproveMint(ctx, lockID, to, amount)
}

func TestTransientFailureIsRetried(t *testing.T) {
	net, _ := newDevnet(t)
	ctx := context.Background()
	v := testValidators[0]

	lockID, err := net.Deposit(ctx, testUser, ether(10), testDest.Hex())
	require.NoError(t, err)

	dst := &flakyDestination{DestinationClient: net.DestinationClient(v), failures: 1}
	markers := NewMemoryMarkers()
	a := NewAgent(testAgentConfig(v, false), net.SourceClient(v), dst, markers, nil, zap.NewNop())

	require.NoError(t, a.Poll(ctx))
	st := a.Status()
	assert.Equal(t, uint64(1), st.Failures)
	assert.Equal(t, 1, st.Retrying)
	assert.Contains(t, st.LastError, "connection reset")
	assert.False(t, net.Destination.HasApproved(lockID, v))

	require.NoError(t, a.Poll(ctx))
	assert.True(t, net.Destination.HasApproved(lockID, v))
	assert.Equal(t, 0, a.Status().Retrying)
	// the source approval of the first attempt is not repeated
	assert.Equal(t, uint64(1), net.Source.ApprovalCount(lockID))

	recs, err := markers.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.RelayStatusApproved, recs[0].Status)
	assert.NotEmpty(t, recs[0].TxHash)
}

// tamperedSource reports Locked events with an inflated amount
type tamperedSource struct {
	*ledger.SourceClient
}

func (s *tamperedSource) LockedEvents(ctx context.Context, from, to uint64) ([]*types.LockedEvent, error) {
	events, err := s.SourceClient.LockedEvents(ctx, from, to)
	for _, ev := range events {
		ev.Amount = new(big.Int).Mul(ev.Amount, big.NewInt(2))
	}
	return events, err
}

func TestEventNotMatchingLockIsRejected(t *testing.T) {
	net, _ := newDevnet(t)
	ctx := context.Background()
	v := testValidators[0]

	lockID, err := net.Deposit(ctx, testUser, ether(10), testDest.Hex())
	require.NoError(t, err)

	alerts := NewMemoryAlerts(0)
	markers := NewMemoryMarkers()
	a := NewAgent(testAgentConfig(v, false), &tamperedSource{net.SourceClient(v)}, net.DestinationClient(v), markers, alerts, zap.NewNop())
	require.NoError(t, a.Poll(ctx))

	assert.False(t, net.Source.HasApproved(lockID, v))
	assert.False(t, net.Destination.HasApproved(lockID, v))

	recs, err := markers.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.RelayStatusRejected, recs[0].Status)

	found := alertsOfType(t, alerts, types.AlertIntegrityCheck)
	require.Len(t, found, 1)
	assert.Equal(t, ether(20).String(), found[0].Data["eventAmount"])
}

func TestWindowGapIsBackfilled(t *testing.T) {
	net, _ := newDevnet(t)
	ctx := context.Background()
	v := testValidators[0]

	cfg := testAgentConfig(v, false)
	cfg.WindowSize = 5
	alerts := NewMemoryAlerts(0)
	markers := NewMemoryMarkers()
	a := NewAgent(cfg, net.SourceClient(v), net.DestinationClient(v), markers, alerts, zap.NewNop())

	require.NoError(t, a.Poll(ctx))

	lockID, err := net.Deposit(ctx, testUser, ether(10), testDest.Hex())
	require.NoError(t, err)
	net.Source.Chain().Mine(20)

	require.NoError(t, a.Poll(ctx))
	gaps := a.Gaps()
	require.Len(t, gaps, 1)
	assert.Equal(t, uint64(1), gaps[0].From)
	assert.False(t, net.Destination.HasApproved(lockID, v))
	require.Len(t, alertsOfType(t, alerts, types.AlertWindowGap), 1)
	assert.Equal(t, 1, a.Status().PendingGaps)
	head := net.Source.Chain().HeadBlock()

	require.NoError(t, a.BackfillGaps(ctx))
	assert.Empty(t, a.Gaps())
	assert.True(t, net.Destination.HasApproved(lockID, v))

	// backfills leave the polling position alone
	scanned, err := markers.LastScannedBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(head), scanned)
}

func TestGatedBackfillRetriesUntilMinted(t *testing.T) {
	net, _ := newDevnet(t)
	ctx := context.Background()

	lockID, err := net.Deposit(ctx, testUser, ether(10), testDest.Hex())
	require.NoError(t, err)
	net.Source.Chain().Mine(20)
	head := net.Source.Chain().HeadBlock()

	// only three keys in this process, the threshold of the committee
	var stores []*MemoryMarkers
	var agents []*Agent
	for _, v := range testValidators[:3] {
		m := NewMemoryMarkers()
		stores = append(stores, m)
		agents = append(agents, NewAgent(testAgentConfig(v, true), net.SourceClient(v), net.DestinationClient(v), m, nil, zap.NewNop()))
	}
	fleet := NewFleet(agents...)

	require.NoError(t, fleet.Backfill(ctx, 0, head, 3, 0))

	assert.True(t, net.Destination.Minted(lockID))
	assert.Equal(t, ether(10).String(), net.Destination.BalanceOf(testDest).String())
	assert.Equal(t, uint64(3), net.Source.ApprovalCount(lockID))
	assert.Equal(t, uint64(3), net.Destination.ApprovalCount(lockID))
	assert.Equal(t, map[string]int{types.RelayStatusApproved: 3}, statuses(t, stores))
	for _, a := range agents {
		assert.Equal(t, 0, a.Status().Retrying)
		assert.Equal(t, 0, a.PendingIn(BlockRange{From: 0, To: head}))
	}
}

func TestGatedBackfillKeepsGapWhilePending(t *testing.T) {
	net, _ := newDevnet(t)
	ctx := context.Background()
	v := testValidators[0]

	cfg := testAgentConfig(v, true)
	cfg.WindowSize = 5
	a := NewAgent(cfg, net.SourceClient(v), net.DestinationClient(v), NewMemoryMarkers(), nil, zap.NewNop())
	require.NoError(t, a.Poll(ctx))

	lockID, err := net.Deposit(ctx, testUser, ether(10), testDest.Hex())
	require.NoError(t, err)
	net.Source.Chain().Mine(20)
	require.NoError(t, a.Poll(ctx))
	gaps := a.Gaps()
	require.Len(t, gaps, 1)

	// a lone validator approves the lock but can never see it finalized
	require.NoError(t, a.BackfillGaps(ctx))
	assert.Equal(t, gaps, a.Gaps())
	assert.Equal(t, 1, a.PendingIn(gaps[0]))

	err = NewFleet(a).Backfill(ctx, gaps[0].From, gaps[0].To, 2, 0)
	require.ErrorIs(t, err, ErrBackfillPending)
	assert.Equal(t, gaps, a.Gaps())
	assert.Equal(t, 1, a.Status().Retrying)
	assert.Equal(t, 1, a.Status().PendingGaps)
	assert.True(t, net.Source.HasApproved(lockID, v))
	assert.Equal(t, uint64(1), net.Source.ApprovalCount(lockID))
	assert.False(t, net.Destination.HasApproved(lockID, v))
}

func TestFleetBackfillStopsOnCancel(t *testing.T) {
	net, _ := newDevnet(t)
	v := testValidators[0]
	_, err := net.Deposit(context.Background(), testUser, ether(10), testDest.Hex())
	require.NoError(t, err)
	head := net.Source.Chain().HeadBlock()

	a := NewAgent(testAgentConfig(v, true), net.SourceClient(v), net.DestinationClient(v), NewMemoryMarkers(), nil, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// the wait between rounds outlasts the context
	err = NewFleet(a).Backfill(ctx, 0, head, 5, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, a.Status().Retrying)
}

func TestBackfillRejectsInvertedRange(t *testing.T) {
	net, _ := newDevnet(t)
	v := testValidators[0]
	a := NewAgent(testAgentConfig(v, false), net.SourceClient(v), net.DestinationClient(v), nil, nil, zap.NewNop())

	assert.Error(t, a.Backfill(context.Background(), 10, 5))
}

func TestLowGasBalanceAlertOnce(t *testing.T) {
	net, _ := newDevnet(t)
	ctx := context.Background()
	v := testValidators[0]

	cfg := testAgentConfig(v, false)
	cfg.MinGasBalance = ether(1)
	alerts := NewMemoryAlerts(0)
	a := NewAgent(cfg, net.SourceClient(v), net.DestinationClient(v), nil, alerts, zap.NewNop())

	require.NoError(t, a.Poll(ctx))
	require.NoError(t, a.Poll(ctx))

	assert.Len(t, alertsOfType(t, alerts, types.AlertLowGasBalance), 1)
	st := a.Status()
	assert.True(t, st.LowGas)
	assert.Equal(t, "0", st.GasBalance)

	net.Destination.Chain().SetBalance(v, ether(5))
	require.NoError(t, a.Poll(ctx))
	assert.False(t, a.Status().LowGas)
}

func TestLargeValueApprovalIsFlagged(t *testing.T) {
	f := newFixture(t, false)
	lockID := f.deposit(t, ether(1500), testDest)

	require.NoError(t, f.fleet.PollAll(context.Background()))

	assert.True(t, f.net.Destination.Minted(lockID))
	// one finding per confirmed approval, the approvals stand
	large := alertsOfType(t, f.alerts, types.AlertLargeValue)
	assert.Len(t, large, 3)
	assert.Equal(t, types.SeverityMedium, large[0].Severity)
}

func TestFleetRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, false)
	lockID := f.deposit(t, ether(10), testDest)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.fleet.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return f.net.Destination.Minted(lockID)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("fleet did not stop")
	}
	assert.Len(t, f.fleet.Statuses(), 5)
}
