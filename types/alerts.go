package types

const (
	AlertLargeValue       = "LARGE_VALUE"
	AlertHighGasUsage     = "HIGH_GAS_USAGE"
	AlertApprovalConflict = "APPROVAL_CONFLICT"
	AlertIntegrityCheck   = "INTEGRITY_CHECK_FAILED"
	AlertWindowGap        = "WINDOW_GAP"
	AlertLowGasBalance    = "LOW_GAS_BALANCE"
)

const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

var alertSeverity = map[string]string{
	AlertLargeValue:       SeverityMedium,
	AlertHighGasUsage:     SeverityMedium,
	AlertApprovalConflict: SeverityHigh,
	AlertIntegrityCheck:   SeverityHigh,
	AlertWindowGap:        SeverityLow,
	AlertLowGasBalance:    SeverityLow,
}

func AlertSeverity(alertType string) string {
	if s, ok := alertSeverity[alertType]; ok {
		return s
	}
	return SeverityLow
}

// Security alerts are informational, they never block or reverse an approval
type SecurityAlert struct {
	ID        string            `json:"id"`
	Timestamp int64             `json:"timestamp"`
	Type      string            `json:"type"`
	Severity  string            `json:"severity"`
	Validator string            `json:"validator"`
	Data      map[string]string `json:"data"`
}
