// Package bridgeabi holds the contract interfaces of the lock and mint ledgers and the
// event/identifier encoding shared by the EVM clients and the in-process ledgers.
package bridgeabi

import (
	"fmt"
	"math/big"
	"strings"

	"piobridge/types"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const LockABI = `[
{"type":"function","name":"lock","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"lockId","type":"bytes32"}]},
{"type":"function","name":"approveLock","stateMutability":"nonpayable","inputs":[{"name":"lockId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"rollback","stateMutability":"nonpayable","inputs":[{"name":"lockId","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"locks","stateMutability":"view","inputs":[{"name":"lockId","type":"bytes32"}],"outputs":[{"name":"sender","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"destChainId","type":"uint256"},{"name":"createdAt","type":"uint256"},{"name":"approvals","type":"uint256"},{"name":"finalized","type":"bool"},{"name":"rolledBack","type":"bool"}]},
{"type":"function","name":"hasApproved","stateMutability":"view","inputs":[{"name":"lockId","type":"bytes32"},{"name":"validator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"validatorCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"APPROVAL_THRESHOLD","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"event","name":"Locked","anonymous":false,"inputs":[{"name":"lockId","type":"bytes32","indexed":true},{"name":"sender","type":"address","indexed":true},{"name":"to","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"destChainId","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
{"type":"event","name":"Approval","anonymous":false,"inputs":[{"name":"lockId","type":"bytes32","indexed":true},{"name":"validator","type":"address","indexed":true}]},
{"type":"event","name":"Finalized","anonymous":false,"inputs":[{"name":"lockId","type":"bytes32","indexed":true}]},
{"type":"event","name":"RolledBack","anonymous":false,"inputs":[{"name":"lockId","type":"bytes32","indexed":true},{"name":"sender","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

const MintABI = `[
{"type":"function","name":"approveMint","stateMutability":"nonpayable","inputs":[{"name":"lockId","type":"bytes32"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"approvalCount","stateMutability":"view","inputs":[{"name":"lockId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"hasApproved","stateMutability":"view","inputs":[{"name":"lockId","type":"bytes32"},{"name":"validator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"minted","stateMutability":"view","inputs":[{"name":"lockId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"requests","stateMutability":"view","inputs":[{"name":"lockId","type":"bytes32"}],"outputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"approvals","type":"uint256"},{"name":"minted","type":"bool"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"validatorCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"APPROVAL_THRESHOLD","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"event","name":"Approval","anonymous":false,"inputs":[{"name":"lockId","type":"bytes32","indexed":true},{"name":"validator","type":"address","indexed":true}]},
{"type":"event","name":"Minted","anonymous":false,"inputs":[{"name":"lockId","type":"bytes32","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

var (
	lockABI abi.ABI
	mintABI abi.ABI
)

func init() {
	var err error
	lockABI, err = abi.JSON(strings.NewReader(LockABI))
	if err != nil {
		panic(fmt.Sprintf("bad lock ABI: %v", err))
	}
	mintABI, err = abi.JSON(strings.NewReader(MintABI))
	if err != nil {
		panic(fmt.Sprintf("bad mint ABI: %v", err))
	}
}

func LockContractABI() abi.ABI { return lockABI }
func MintContractABI() abi.ABI { return mintABI }

// topics to filter logs with
func LockedTopic() common.Hash { return lockABI.Events["Locked"].ID }
func LockApprovalTopic() common.Hash { return lockABI.Events["Approval"].ID }
func FinalizedTopic() common.Hash { return lockABI.Events["Finalized"].ID }
func RolledBackTopic() common.Hash { return lockABI.Events["RolledBack"].ID }
func MintApprovalTopic() common.Hash { return mintABI.Events["Approval"].ID }
func MintedTopic() common.Hash { return mintABI.Events["Minted"].ID }

func NewLockContract(address common.Address, backend bind.ContractBackend) *bind.BoundContract {
	return bind.NewBoundContract(address, lockABI, backend, backend, backend)
}

func NewMintContract(address common.Address, backend bind.ContractBackend) *bind.BoundContract {
	return bind.NewBoundContract(address, mintABI, backend, backend, backend)
}

// DeriveLockID mirrors keccak256(abi.encodePacked(sender, nonce, amount, to, timestamp)).
func DeriveLockID(sender common.Address, nonce uint64, amount *big.Int, destination common.Address, timestamp int64) common.Hash {
	return crypto.Keccak256Hash(
		sender.Bytes(),
		common.LeftPadBytes(new(big.Int).SetUint64(nonce).Bytes(), 32),
		common.LeftPadBytes(amount.Bytes(), 32),
		destination.Bytes(),
		common.LeftPadBytes(big.NewInt(timestamp).Bytes(), 32),
	)
}

type lockedData struct {
	To          common.Address
	Amount      *big.Int
	DestChainId *big.Int
	Timestamp   *big.Int
}

// EncodeLocked builds the log a lock ledger emits for ev (without block placement).
func EncodeLocked(ev *types.LockedEvent) (ethtypes.Log, error) {
	data, err := lockABI.Events["Locked"].Inputs.NonIndexed().Pack(
		ev.Destination,
		ev.Amount,
		new(big.Int).SetUint64(ev.DestChainID),
		big.NewInt(ev.Timestamp),
	)
	if err != nil {
		return ethtypes.Log{}, fmt.Errorf("cannot pack Locked event: %w", err)
	}

	return ethtypes.Log{
		Topics: []common.Hash{LockedTopic(), ev.LockID, common.BytesToHash(ev.Sender.Bytes())},
		Data:   data,
	}, nil
}

func DecodeLocked(l ethtypes.Log) (*types.LockedEvent, error) {
	if len(l.Topics) != 3 || l.Topics[0] != LockedTopic() {
		return nil, fmt.Errorf("log %s-%d is not a Locked event", l.TxHash.Hex(), l.Index)
	}

	var data lockedData
	if err := lockABI.UnpackIntoInterface(&data, "Locked", l.Data); err != nil {
		return nil, fmt.Errorf("cannot unpack Locked event: %w", err)
	}
	if data.Amount == nil || data.DestChainId == nil || data.Timestamp == nil {
		return nil, fmt.Errorf("incomplete Locked event in %s", l.TxHash.Hex())
	}

	return &types.LockedEvent{
		LockID:      l.Topics[1],
		Sender:      common.BytesToAddress(l.Topics[2].Bytes()),
		Destination: data.To,
		Amount:      data.Amount,
		DestChainID: data.DestChainId.Uint64(),
		Timestamp:   data.Timestamp.Int64(),
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}, nil
}

func EncodeMinted(ev *types.MintedEvent) (ethtypes.Log, error) {
	data, err := mintABI.Events["Minted"].Inputs.NonIndexed().Pack(ev.Amount)
	if err != nil {
		return ethtypes.Log{}, fmt.Errorf("cannot pack Minted event: %w", err)
	}

	return ethtypes.Log{
		Topics: []common.Hash{MintedTopic(), ev.LockID, common.BytesToHash(ev.To.Bytes())},
		Data:   data,
	}, nil
}

func DecodeMinted(l ethtypes.Log) (*types.MintedEvent, error) {
	if len(l.Topics) != 3 || l.Topics[0] != MintedTopic() {
		return nil, fmt.Errorf("log %s-%d is not a Minted event", l.TxHash.Hex(), l.Index)
	}

	values, err := mintABI.Events["Minted"].Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return nil, fmt.Errorf("cannot unpack Minted event: %w", err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected Minted amount type %T", values[0])
	}

	return &types.MintedEvent{
		LockID: l.Topics[1],
		To:     common.BytesToAddress(l.Topics[2].Bytes()),
		Amount: amount,
	}, nil
}

// EncodeApproval is used by both ledgers, topic decides which contract emitted it.
func EncodeApproval(topic common.Hash, ev *types.ApprovalEvent) ethtypes.Log {
	return ethtypes.Log{
		Topics: []common.Hash{topic, ev.LockID, common.BytesToHash(ev.Validator.Bytes())},
	}
}

func DecodeApproval(l ethtypes.Log) (*types.ApprovalEvent, error) {
	if len(l.Topics) != 3 || (l.Topics[0] != LockApprovalTopic() && l.Topics[0] != MintApprovalTopic()) {
		return nil, fmt.Errorf("log %s-%d is not an Approval event", l.TxHash.Hex(), l.Index)
	}
	return &types.ApprovalEvent{
		LockID:    l.Topics[1],
		Validator: common.BytesToAddress(l.Topics[2].Bytes()),
	}, nil
}

// simple single-topic events (Finalized) and RolledBack with its amount
func EncodeFinalized(lockID common.Hash) ethtypes.Log {
	return ethtypes.Log{Topics: []common.Hash{FinalizedTopic(), lockID}}
}

func EncodeRolledBack(lockID common.Hash, sender common.Address, amount *big.Int) (ethtypes.Log, error) {
	data, err := lockABI.Events["RolledBack"].Inputs.NonIndexed().Pack(amount)
	if err != nil {
		return ethtypes.Log{}, fmt.Errorf("cannot pack RolledBack event: %w", err)
	}
	return ethtypes.Log{
		Topics: []common.Hash{RolledBackTopic(), lockID, common.BytesToHash(sender.Bytes())},
		Data:   data,
	}, nil
}
