package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// source chain holds the original token in custody,
// destination chain holds the wrapped token

type ChainType int

const CHAINKEY_SOURCE ChainType = 0
const CHAINKEY_DEST ChainType = 1

func (c ChainType) String() string {
	switch c {
	case CHAINKEY_SOURCE:
		return "source"
	case CHAINKEY_DEST:
		return "destination"
	default:
		return "unknown"
	}
}

// Lock record as kept by the source ledger.
// ApprovalCount is always filled, Approvals only when the backend can enumerate them.
type LockRecord struct {
	LockID        common.Hash
	Sender        common.Address
	Destination   common.Address
	Amount        *big.Int
	DestChainID   uint64
	CreatedAt     int64
	Approvals     []common.Address
	ApprovalCount uint64
	Finalized     bool
	RolledBack    bool
}

// Mint approval as kept by the destination ledger, the (To, Amount) tuple is the
// one fixed by the first accepted approval
type MintApproval struct {
	LockID        common.Hash
	To            common.Address
	Amount        *big.Int
	Approvals     []common.Address
	ApprovalCount uint64
	Minted        bool
}

// Locked is emitted by the source ledger on every successful lock()
type LockedEvent struct {
	LockID      common.Hash
	Sender      common.Address
	Destination common.Address
	Amount      *big.Int
	DestChainID uint64
	Timestamp   int64

	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

func (e *LockedEvent) Marker() EventMarker {
	return EventMarker{TxHash: e.TxHash, LogIndex: e.LogIndex}
}

type MintedEvent struct {
	LockID common.Hash
	To     common.Address
	Amount *big.Int
}

// emitted by both ledgers for every counted validator approval
type ApprovalEvent struct {
	LockID    common.Hash
	Validator common.Address
}

// EventMarker identifies a log that a relayer already acted upon.
type EventMarker struct {
	TxHash   common.Hash
	LogIndex uint
}

func (m EventMarker) String() string {
	return fmt.Sprintf("%s-%d", m.TxHash.Hex(), m.LogIndex)
}

// TxReceipt merges the parts of a transaction and its receipt the relayer inspects.
type TxReceipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64
	GasUsed     uint64
	GasLimit    uint64
	Value       *big.Int // native value carried by the transaction
}

const ReceiptStatusSuccessful = 1

// Relay record is what a validator agent remembers about a processed Locked event
type RelayRecord struct {
	Marker      string
	LockID      string
	Status      string
	TxHash      string // approveMint transaction of this validator, when one was sent
	Message     string // helps to track processing/errors
	TsProcessed int64
}

const (
	RelayStatusApproved        = "approved"         // this validator's approval confirmed
	RelayStatusSettled         = "settled"          // quorum reached by other validators
	RelayStatusAlreadyApproved = "already_approved" // approval found on chain (e.g. before restart)
	RelayStatusConflict        = "conflict"         // destination rejected the tuple
	RelayStatusStale           = "stale"            // lock was rolled back on the source chain
	RelayStatusRejected        = "rejected"         // ledger refused the call for good (e.g. not a validator)
)

type ChainHead struct {
	Name    string `json:"name"`
	ChainID uint64 `json:"chainId"`
	Head    uint64 `json:"head"`
}

// AgentStatus is a point-in-time snapshot of a validator agent
type AgentStatus struct {
	Validator   string `json:"validator"`
	State       string `json:"state"`
	LastSeen    uint64 `json:"lastSeenBlock"`
	Processed   uint64 `json:"processed"`
	Failures    uint64 `json:"transientFailures"`
	GasBalance  string `json:"gasBalance,omitempty"`
	LowGas      bool   `json:"lowGas"`
	LastError   string `json:"lastError,omitempty"`
	LastPolled  int64  `json:"lastPolled"`
	PendingGaps int    `json:"pendingGaps"`
	Retrying    int    `json:"retryingEvents"`
}
