package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"piobridge/types"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

const defaultAlertLimit = 100

func (a *API) GetLock(w http.ResponseWriter, r *http.Request) {
	if a.Locks == nil {
		responseError(w, "", "lock ledger not available", http.StatusServiceUnavailable)
		return
	}
	lockID, ok := parseLockID(chi.URLParam(r, "id"))
	if !ok {
		responseError(w, "id", "Lock id must be 0x-prefixed 32 byte hex", http.StatusBadRequest)
		return
	}

	rec, err := a.Locks.GetLock(r.Context(), lockID)
	if errors.Is(err, types.ErrUnknownLock) {
		responseError(w, "id", "Unknown lock", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger().Error("error reading lock", zap.String("lockId", lockID.Hex()), zap.Error(err))
		responseError(w, "", "Error reading lock", http.StatusInternalServerError)
		return
	}

	responseJSON(w, &APILockResponse{
		Status:        "ok",
		LockID:        rec.LockID.Hex(),
		Sender:        rec.Sender.Hex(),
		Destination:   rec.Destination.Hex(),
		Amount:        rec.Amount.String(),
		DestChainID:   rec.DestChainID,
		CreatedAt:     rec.CreatedAt,
		Approvals:     hexAddresses(rec.Approvals),
		ApprovalCount: rec.ApprovalCount,
		Finalized:     rec.Finalized,
		RolledBack:    rec.RolledBack,
	}, http.StatusOK)
}

func (a *API) GetMint(w http.ResponseWriter, r *http.Request) {
	if a.Mints == nil {
		responseError(w, "", "mint ledger not available", http.StatusServiceUnavailable)
		return
	}
	lockID, ok := parseLockID(chi.URLParam(r, "id"))
	if !ok {
		responseError(w, "id", "Lock id must be 0x-prefixed 32 byte hex", http.StatusBadRequest)
		return
	}

	m, err := a.Mints.MintStatus(r.Context(), lockID)
	if err != nil {
		a.logger().Error("error reading mint status", zap.String("lockId", lockID.Hex()), zap.Error(err))
		responseError(w, "", "Error reading mint status", http.StatusInternalServerError)
		return
	}

	resp := &APIMintResponse{
		Status:        "ok",
		LockID:        lockID.Hex(),
		Amount:        "0",
		Approvals:     hexAddresses(m.Approvals),
		ApprovalCount: m.ApprovalCount,
		Minted:        m.Minted,
	}
	if m.ApprovalCount > 0 {
		resp.To = m.To.Hex()
	}
	if m.Amount != nil {
		resp.Amount = m.Amount.String()
	}
	responseJSON(w, resp, http.StatusOK)
}

func (a *API) GetAgents(w http.ResponseWriter, r *http.Request) {
	if a.Agents == nil {
		responseJSON(w, []types.AgentStatus{}, http.StatusOK)
		return
	}
	responseJSON(w, a.Agents.Statuses(), http.StatusOK)
}

func (a *API) GetAlerts(w http.ResponseWriter, r *http.Request) {
	if a.Alerts == nil {
		responseError(w, "", "alert log not available", http.StatusServiceUnavailable)
		return
	}

	limit := defaultAlertLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			responseError(w, "limit", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	alerts, err := a.Alerts.Recent(limit)
	if err != nil {
		a.logger().Error("error reading alerts", zap.Error(err))
		responseError(w, "", "Error reading alerts", http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []*types.SecurityAlert{}
	}
	responseJSON(w, alerts, http.StatusOK)
}
