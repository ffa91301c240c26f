package handlers

import (
	"context"
	"math/big"

	"piobridge/types"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

type APIStateResponse struct {
	Status  string             `json:"status"`
	Message string             `json:"message"`
	Chains  []*types.ChainHead `json:"chains"`
}

type APILockResponse struct {
	Status        string   `json:"status"`
	LockID        string   `json:"lockId"`
	Sender        string   `json:"sender"`
	Destination   string   `json:"destination"`
	Amount        string   `json:"amount"`
	DestChainID   uint64   `json:"destChainId"`
	CreatedAt     int64    `json:"createdAt"`
	Approvals     []string `json:"approvals,omitempty"`
	ApprovalCount uint64   `json:"approvalCount"`
	Finalized     bool     `json:"finalized"`
	RolledBack    bool     `json:"rolledBack"`
}

type APIMintResponse struct {
	Status        string   `json:"status"`
	LockID        string   `json:"lockId"`
	To            string   `json:"to,omitempty"`
	Amount        string   `json:"amount"`
	Approvals     []string `json:"approvals,omitempty"`
	ApprovalCount uint64   `json:"approvalCount"`
	Minted        bool     `json:"minted"`
}

type APIBalanceResponse struct {
	Status  string `json:"status"`
	Address string `json:"address"`
	Balance string `json:"balance"` // wei
	Whole   string `json:"whole"`   // whole tokens, rounded down
}

type APILockSubmitResponse struct {
	Status string `json:"status"`
	LockID string `json:"lockId"`
}

type LockReader interface {
	GetLock(ctx context.Context, lockID common.Hash) (*types.LockRecord, error)
}

type MintReader interface {
	MintStatus(ctx context.Context, lockID common.Hash) (*types.MintApproval, error)
	WrappedBalance(ctx context.Context, addr common.Address) (*big.Int, error)
}

type AgentStatusProvider interface {
	Statuses() []types.AgentStatus
}

type AlertReader interface {
	Recent(limit int) ([]*types.SecurityAlert, error)
}

type ChainProbe interface {
	Probe(ctx context.Context) (*types.ChainHead, error)
}

// Locker initiates locks on behalf of a sender, only wired on devnet
type Locker interface {
	Deposit(ctx context.Context, sender common.Address, amount *big.Int, destination string) (common.Hash, error)
}

// API serves read-only bridge state. Nil readers make their endpoints answer 503.
type API struct {
	Locks  LockReader
	Mints  MintReader
	Agents AgentStatusProvider
	Alerts AlertReader
	Probes []ChainProbe
	Locker Locker
	Logger *zap.Logger
}

func (a *API) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}
