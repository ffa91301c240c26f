package workers

import (
	"fmt"
	"math/big"

	"piobridge/types"
)

// default advisory thresholds of the post-hoc transaction check
var DefaultLargeValue = new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))

const DefaultGasRatio = 0.95

type SecurityPolicy struct {
	// approvals moving more than this (token amount or native value) are flagged
	LargeValue *big.Int
	// gasUsed/gasLimit above this is flagged
	GasRatio float64
}

func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{LargeValue: new(big.Int).Set(DefaultLargeValue), GasRatio: DefaultGasRatio}
}

type Finding struct {
	Type string
	Data map[string]string
}

// InspectReceipt runs the advisory checks over a confirmed approval. Findings are
// reported only, the approval stands regardless.
func (p SecurityPolicy) InspectReceipt(receipt *types.TxReceipt, ev *types.LockedEvent) []Finding {
	if receipt == nil {
		return []Finding{{Type: types.AlertIntegrityCheck, Data: map[string]string{
			"lockId": ev.LockID.Hex(),
			"reason": "receipt not found",
		}}}
	}

	res := make([]Finding, 0)
	if receipt.Status != types.ReceiptStatusSuccessful {
		res = append(res, Finding{Type: types.AlertIntegrityCheck, Data: map[string]string{
			"lockId": ev.LockID.Hex(),
			"txHash": receipt.TxHash.Hex(),
			"reason": fmt.Sprintf("receipt status %d", receipt.Status),
		}})
	}

	if p.LargeValue != nil {
		if ev.Amount != nil && ev.Amount.Cmp(p.LargeValue) > 0 {
			res = append(res, Finding{Type: types.AlertLargeValue, Data: map[string]string{
				"lockId":    ev.LockID.Hex(),
				"txHash":    receipt.TxHash.Hex(),
				"amount":    ev.Amount.String(),
				"threshold": p.LargeValue.String(),
			}})
		} else if receipt.Value != nil && receipt.Value.Cmp(p.LargeValue) > 0 {
			res = append(res, Finding{Type: types.AlertLargeValue, Data: map[string]string{
				"lockId":    ev.LockID.Hex(),
				"txHash":    receipt.TxHash.Hex(),
				"value":     receipt.Value.String(),
				"threshold": p.LargeValue.String(),
			}})
		}
	}

	if p.GasRatio > 0 && receipt.GasLimit > 0 {
		ratio := float64(receipt.GasUsed) / float64(receipt.GasLimit)
		if ratio > p.GasRatio {
			res = append(res, Finding{Type: types.AlertHighGasUsage, Data: map[string]string{
				"lockId":   ev.LockID.Hex(),
				"txHash":   receipt.TxHash.Hex(),
				"gasUsed":  fmt.Sprintf("%d", receipt.GasUsed),
				"gasLimit": fmt.Sprintf("%d", receipt.GasLimit),
				"ratio":    fmt.Sprintf("%.4f", ratio),
			}})
		}
	}

	return res
}
