package ledger

import (
	"context"
	"math/big"
	"testing"

	"piobridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lock 10 on the source, three validators approve the same tuple on the
// destination: exactly 10 wrapped tokens are minted once
func TestScenarioHappyPath(t *testing.T) {
	d, _ := newTestDevnet(t)
	ctx := context.Background()

	lockID, err := d.Deposit(ctx, testUser, ether(10), testDest.Hex())
	require.NoError(t, err)

	for n, v := range testValidators[:3] {
		_, err := d.Destination.ApproveMint(v, lockID, testDest, ether(10))
		require.NoError(t, err)
		assert.Equal(t, uint64(n+1), d.Destination.ApprovalCount(lockID))
		assert.Equal(t, n == 2, d.Destination.Minted(lockID))
	}
	assert.Equal(t, "10000000000000000000", d.Destination.BalanceOf(testDest).String())
	assert.Equal(t, "10000000000000000000", d.Destination.TotalSupply().String())

	// late approvals after the mint are accepted and change nothing
	for _, v := range testValidators[3:] {
		_, err := d.Destination.ApproveMint(v, lockID, testDest, ether(10))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(3), d.Destination.ApprovalCount(lockID))
	assert.Equal(t, "10000000000000000000", d.Destination.TotalSupply().String())

	req := d.Destination.Request(lockID)
	require.NotNil(t, req)
	assert.True(t, req.Minted)
	assert.Equal(t, testDest, req.To)
	assert.Equal(t, testValidators[:3], req.Approvals)
}

// validator 1 approves (d1, 10), validator 2 tries (d2, 10): rejected and the
// canonical tuple is untouched
func TestScenarioConflictingTuple(t *testing.T) {
	d, _ := newTestDevnet(t)
	lockID := common.HexToHash("0x6c6f636b")

	_, err := d.Destination.ApproveMint(testValidators[0], lockID, testDest, ether(10))
	require.NoError(t, err)

	head := d.Destination.Chain().HeadBlock()
	_, err = d.Destination.ApproveMint(testValidators[1], lockID, testAlt, ether(10))
	assert.ErrorIs(t, err, types.ErrApprovalConflict)
	assert.Equal(t, types.KindConflict, types.KindOf(err))
	assert.Equal(t, head, d.Destination.Chain().HeadBlock())

	_, err = d.Destination.ApproveMint(testValidators[1], lockID, testDest, ether(11))
	assert.ErrorIs(t, err, types.ErrApprovalConflict)

	assert.Equal(t, uint64(1), d.Destination.ApprovalCount(lockID))
	assert.False(t, d.Destination.HasApproved(lockID, testValidators[1]))

	req := d.Destination.Request(lockID)
	require.NotNil(t, req)
	assert.Equal(t, testDest, req.To)
	assert.Equal(t, "10000000000000000000", req.Amount.String())
	assert.False(t, req.Minted)
}

func TestConflictCheckedBeforeMintedNoop(t *testing.T) {
	d, _ := newTestDevnet(t)
	lockID := common.HexToHash("0x01")

	for _, v := range testValidators[:3] {
		_, err := d.Destination.ApproveMint(v, lockID, testDest, ether(1))
		require.NoError(t, err)
	}
	require.True(t, d.Destination.Minted(lockID))

	_, err := d.Destination.ApproveMint(testValidators[3], lockID, testAlt, ether(1))
	assert.ErrorIs(t, err, types.ErrApprovalConflict)
	assert.Equal(t, 0, d.Destination.BalanceOf(testAlt).Sign())
}

func TestApproveMintIsIdempotent(t *testing.T) {
	d, _ := newTestDevnet(t)
	lockID := common.HexToHash("0x02")

	for i := 0; i < 4; i++ {
		_, err := d.Destination.ApproveMint(testValidators[2], lockID, testDest, ether(7))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(1), d.Destination.ApprovalCount(lockID))
	assert.False(t, d.Destination.Minted(lockID))
	assert.Equal(t, 0, d.Destination.TotalSupply().Sign())
}

func TestApproveMintRejections(t *testing.T) {
	d, _ := newTestDevnet(t)
	lockID := common.HexToHash("0x03")

	tests := []struct {
		name      string
		validator common.Address
		to        common.Address
		amount    *big.Int
		err       error
	}{
		{name: "not a validator", validator: testUser, to: testDest, amount: ether(1), err: types.ErrNotValidator},
		{name: "zero amount", validator: testValidators[0], to: testDest, amount: big.NewInt(0), err: types.ErrInvalidAmount},
		{name: "nil amount", validator: testValidators[0], to: testDest, amount: nil, err: types.ErrInvalidAmount},
		{name: "zero recipient", validator: testValidators[0], to: common.Address{}, amount: ether(1), err: types.ErrInvalidDestination},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Destination.ApproveMint(tc.validator, lockID, tc.to, tc.amount)
			assert.ErrorIs(t, err, tc.err)
			assert.Nil(t, d.Destination.Request(lockID))
		})
	}
}

func TestMintReceiptsAndEvents(t *testing.T) {
	d, _ := newTestDevnet(t)
	ctx := context.Background()
	lockID := common.HexToHash("0x04")

	var last common.Hash
	for _, v := range testValidators[:3] {
		txHash, err := d.DestinationClient(v).SubmitApproveMint(ctx, lockID, testDest, ether(2))
		require.NoError(t, err)
		last = txHash
	}

	receipt, err := d.DestinationClient(testValidators[0]).WaitConfirmed(ctx, last)
	require.NoError(t, err)
	assert.Equal(t, uint64(types.ReceiptStatusSuccessful), receipt.Status)
	assert.Equal(t, uint64(gasApproveMint+gasMint), receipt.GasUsed)
	assert.Equal(t, uint64(DefaultGasLimit), receipt.GasLimit)

	_, err = d.DestinationClient(testValidators[0]).WaitConfirmed(ctx, common.HexToHash("0xabc"))
	assert.ErrorIs(t, err, types.ErrTransient)

	status, err := d.DestinationClient(testValidators[0]).MintStatus(ctx, lockID)
	require.NoError(t, err)
	assert.True(t, status.Minted)

	unseen, err := d.DestinationClient(testValidators[0]).MintStatus(ctx, common.HexToHash("0x05"))
	require.NoError(t, err)
	assert.False(t, unseen.Minted)
	assert.Equal(t, uint64(0), unseen.ApprovalCount)
}
