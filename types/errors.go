package types

import (
	"errors"
)

// Kind groups ledger and relayer errors by how callers have to react to them.
type Kind int

const (
	KindUnknown Kind = iota
	// bad amount/address, wrong caller; rejected without state change
	KindValidation
	// mismatched mint tuple for an existing lock id
	KindConflict
	// too early, or a mutating call after finalize/rollback
	KindTiming
	// network/RPC failures, retried on the next poll cycle
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindTiming:
		return "timing"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidAmount         = errors.New("InvalidAmount")
	ErrInvalidDestination    = errors.New("InvalidDestination")
	ErrInsufficientAllowance = errors.New("InsufficientAllowance")
	ErrInsufficientBalance   = errors.New("InsufficientBalance")
	ErrNotValidator          = errors.New("NotValidator")
	ErrNotSender             = errors.New("NotSender")
	ErrUnknownLock           = errors.New("UnknownLock")

	ErrApprovalConflict = errors.New("ApprovalConflict")

	ErrAlreadyFinalized  = errors.New("AlreadyFinalized")
	ErrAlreadyRolledBack = errors.New("AlreadyRolledBack")
	ErrTooEarly          = errors.New("TooEarly")

	ErrTransient = errors.New("transient failure")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidAmount, KindValidation},
	{ErrInvalidDestination, KindValidation},
	{ErrInsufficientAllowance, KindValidation},
	{ErrInsufficientBalance, KindValidation},
	{ErrNotValidator, KindValidation},
	{ErrNotSender, KindValidation},
	{ErrUnknownLock, KindValidation},
	{ErrApprovalConflict, KindConflict},
	{ErrAlreadyFinalized, KindTiming},
	{ErrAlreadyRolledBack, KindTiming},
	{ErrTooEarly, KindTiming},
	{ErrTransient, KindTransient},
}

// KindOf classifies err. Anything not produced by a ledger is treated as transient,
// the relayer retries those on its next cycle.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindTransient
}

// Sentinels returns ledger errors in a stable order, used to map revert reasons back.
func Sentinels() []error {
	res := make([]error, 0, len(kinds))
	for _, k := range kinds {
		if k.kind != KindTransient {
			res = append(res, k.err)
		}
	}
	return res
}
