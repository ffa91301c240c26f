package workers

import (
	"io"
	"os"
	"sync"
	"time"

	"piobridge/types"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AlertSink receives security alerts. Raising an alert never blocks the relay path,
// callers only log sink errors.
type AlertSink interface {
	Raise(alert *types.SecurityAlert) error
}

type AlertReader interface {
	// Recent returns up to limit alerts, oldest first
	Recent(limit int) ([]*types.SecurityAlert, error)
}

func NewAlert(alertType string, validator string, data map[string]string) *types.SecurityAlert {
	return &types.SecurityAlert{
		ID:        uuid.New().String(),
		Timestamp: time.Now().Unix(),
		Type:      alertType,
		Severity:  types.AlertSeverity(alertType),
		Validator: validator,
		Data:      data,
	}
}

// MemoryAlerts keeps the last max alerts
type MemoryAlerts struct {
	mu     sync.Mutex
	max    int
	alerts []*types.SecurityAlert
}

func NewMemoryAlerts(max int) *MemoryAlerts {
	return &MemoryAlerts{max: max}
}

func (m *MemoryAlerts) Raise(alert *types.SecurityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	if m.max > 0 && len(m.alerts) > m.max {
		m.alerts = m.alerts[len(m.alerts)-m.max:]
	}
	return nil
}

func (m *MemoryAlerts) Recent(limit int) ([]*types.SecurityAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if limit > 0 && len(m.alerts) > limit {
		start = len(m.alerts) - limit
	}
	res := make([]*types.SecurityAlert, len(m.alerts)-start)
	copy(res, m.alerts[start:])
	return res, nil
}

// AlertLog appends one JSON object per alert to w
type AlertLog struct {
	logger *zap.Logger
	closer io.Closer
}

func NewAlertLog(w io.Writer) *AlertLog {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), zap.InfoLevel)
	return &AlertLog{logger: zap.New(core)}
}

func OpenAlertLog(path string) (*AlertLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	l := NewAlertLog(f)
	l.closer = f
	return l, nil
}

func (l *AlertLog) Raise(alert *types.SecurityAlert) error {
	fields := []zap.Field{
		zap.String("id", alert.ID),
		zap.Int64("timestamp", alert.Timestamp),
		zap.String("type", alert.Type),
		zap.String("severity", alert.Severity),
		zap.String("validator", alert.Validator),
		zap.Any("data", alert.Data),
	}
	if alert.Severity == types.SeverityHigh {
		l.logger.Error("security alert", fields...)
	} else {
		l.logger.Warn("security alert", fields...)
	}
	return l.logger.Sync()
}

func (l *AlertLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// MultiAlerts fans an alert out to every sink
type MultiAlerts []AlertSink

func (m MultiAlerts) Raise(alert *types.SecurityAlert) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Raise(alert))
	}
	return err
}
