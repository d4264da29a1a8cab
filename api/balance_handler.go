package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/raushankrgupta/tryon-orchestrator/ledger"
	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/raushankrgupta/tryon-orchestrator/utils"
)

// BalanceHandler returns the caller's visible balance and the price list.
func (h *Handler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	var logMessageBuilder strings.Builder
	defer utils.FlushLogMessage(h.logger, &logMessageBuilder)
	utils.AddToLogMessage(&logMessageBuilder, "[Balance API]")

	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		utils.RespondError(w, &logMessageBuilder, "Unauthorized", http.StatusUnauthorized)
		return
	}

	balance, err := h.balances.Balance(r.Context(), userID)
	if err != nil {
		utils.AddToLogMessage(&logMessageBuilder, fmt.Sprintf("Failed to read balance: %v", err))
		if errors.Is(err, ledger.ErrUserNotFound) {
			utils.RespondError(w, &logMessageBuilder, "User not found", http.StatusNotFound)
		} else {
			utils.RespondError(w, &logMessageBuilder, "Failed to fetch balance", http.StatusServiceUnavailable)
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"balance": balance,
		"prices": map[models.Kind]int64{
			models.KindImage: h.pricing.CostFor(models.KindImage),
			models.KindVideo: h.pricing.CostFor(models.KindVideo),
		},
	})
}
