package handlers

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

var weiPerToken = big.NewInt(1e18)

// Balance reports the wrapped token balance of an address on the destination chain
func (a *API) Balance(w http.ResponseWriter, r *http.Request) {
	if a.Mints == nil {
		responseError(w, "", "mint ledger not available", http.StatusServiceUnavailable)
		return
	}
	s := chi.URLParam(r, "address")
	if !common.IsHexAddress(s) {
		responseError(w, "address", "No address or invalid address provided", http.StatusBadRequest)
		return
	}
	addr := common.HexToAddress(s)

	balance, err := a.Mints.WrappedBalance(r.Context(), addr)
	if err != nil {
		a.logger().Error("error getting balance", zap.String("address", addr.Hex()), zap.Error(err))
		responseError(w, "", "Error getting balance", http.StatusInternalServerError)
		return
	}

	responseJSON(w, &APIBalanceResponse{
		Status:  "ok",
		Address: addr.Hex(),
		Balance: balance.String(),
		Whole:   new(big.Int).Div(balance, weiPerToken).String(),
	}, http.StatusOK)
}
