package handlers

import (
	"fmt"
	"net/http"

	"piobridge/types"

	"go.uber.org/zap"
)

// State reports the head of every configured chain, "degraded" if one cannot be reached
func (a *API) State(w http.ResponseWriter, r *http.Request) {
	resp := &APIStateResponse{
		Status: "ok",
		Chains: make([]*types.ChainHead, 0, len(a.Probes)),
	}

	for _, p := range a.Probes {
		head, err := p.Probe(r.Context())
		if err != nil {
			a.logger().Warn("chain probe failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Message = fmt.Sprintf("chain probe failed: %s", err.Error())
			continue
		}
		resp.Chains = append(resp.Chains, head)
	}

	responseJSON(w, resp, http.StatusOK)
}
