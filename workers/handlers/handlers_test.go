package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"piobridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeFunc func(ctx context.Context) (*types.ChainHead, error)

func (f probeFunc) Probe(ctx context.Context) (*types.ChainHead, error) { return f(ctx) }

func TestStateReportsDegradedChain(t *testing.T) {
	api := &API{Probes: []ChainProbe{
		probeFunc(func(context.Context) (*types.ChainHead, error) {
			return &types.ChainHead{Name: "pio", ChainID: 5080, Head: 42}, nil
		}),
		probeFunc(func(context.Context) (*types.ChainHead, error) {
			return nil, errors.New("dial tcp: connection refused")
		}),
	}}

	rec := httptest.NewRecorder()
	api.State(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res APIStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "degraded", res.Status)
	assert.Contains(t, res.Message, "connection refused")
	require.Len(t, res.Chains, 1)
	assert.Equal(t, uint64(42), res.Chains[0].Head)
}

func TestHealthCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok","message":"","field":""}`, rec.Body.String())
}

func TestParseLockID(t *testing.T) {
	id := common.HexToHash("0xabcdef")

	got, ok := parseLockID(id.Hex())
	assert.True(t, ok)
	assert.Equal(t, id, got)

	for _, s := range []string{"", "abcdef", "0xabcdef", id.Hex() + "00", "0x" + string(make([]byte, 64))} {
		_, ok := parseLockID(s)
		assert.False(t, ok, s)
	}
}

type staticAlerts []*types.SecurityAlert

func (s staticAlerts) Recent(limit int) ([]*types.SecurityAlert, error) {
	if limit < len(s) {
		return s[len(s)-limit:], nil
	}
	return s, nil
}

func TestGetAlertsLimit(t *testing.T) {
	api := &API{Alerts: staticAlerts{
		{ID: "1", Type: types.AlertWindowGap},
		{ID: "2", Type: types.AlertLargeValue},
		{ID: "3", Type: types.AlertApprovalConflict},
	}}

	rec := httptest.NewRecorder()
	api.GetAlerts(rec, httptest.NewRequest(http.MethodGet, "/alerts?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var res []*types.SecurityAlert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res, 2)
	assert.Equal(t, "2", res[0].ID)
	assert.Equal(t, "3", res[1].ID)
}
