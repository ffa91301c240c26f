package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"

	"piobridge/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type LockRequest struct {
	Sender      string `json:"sender"`
	Amount      string `json:"amount"` // wei, base 10
	Destination string `json:"destination"`
}

// SubmitLock funds the sender from the devnet faucet and locks the amount
func (a *API) SubmitLock(w http.ResponseWriter, r *http.Request) {
	if a.Locker == nil {
		responseError(w, "", "locking is only available on devnet", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.logger().Warn("error reading request body", zap.Error(err))
		responseError(w, "", "Error reading request body", http.StatusBadRequest)
		return
	}

	var req LockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.logger().Warn("error unmarshalling request body", zap.Error(err))
		responseError(w, "", "Cannot unmarshal input JSON", http.StatusBadRequest)
		return
	}

	if !common.IsHexAddress(req.Sender) {
		responseError(w, "sender", "No sender address or invalid address provided", http.StatusBadRequest)
		return
	}
	if err := ethav.Validate(common.HexToAddress(req.Sender).Hex()); err != nil {
		responseError(w, "sender", "No sender address or invalid address provided", http.StatusBadRequest)
		return
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		responseError(w, "amount", "Amount must be a base 10 integer", http.StatusBadRequest)
		return
	}

	lockID, err := a.Locker.Deposit(r.Context(), common.HexToAddress(req.Sender), amount, req.Destination)
	if err != nil {
		if types.KindOf(err) == types.KindValidation {
			field := ""
			switch {
			case errors.Is(err, types.ErrInvalidAmount):
				field = "amount"
			case errors.Is(err, types.ErrInvalidDestination):
				field = "destination"
			}
			responseError(w, field, err.Error(), http.StatusBadRequest)
			return
		}
		a.logger().Error("error locking", zap.Error(err))
		responseError(w, "", "Error locking funds", http.StatusInternalServerError)
		return
	}

	a.logger().Info("lock created",
		zap.String("lockId", lockID.Hex()),
		zap.String("sender", req.Sender),
		zap.String("amount", amount.String()),
		zap.String("destination", req.Destination))

	responseJSON(w, &APILockSubmitResponse{
		Status: "ok",
		LockID: lockID.Hex(),
	}, http.StatusOK)
}
