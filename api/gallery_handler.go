package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/raushankrgupta/tryon-orchestrator/utils"
)

// GalleryResponse represents the response structure for the gallery API
type GalleryResponse struct {
	Items       []models.PreviewItem `json:"items"`
	Total       int64                `json:"total"`
	CurrentPage int                  `json:"current_page"`
	TotalPages  int                  `json:"total_pages"`
}

// GalleryHandler handles fetching the user's published try-on previews
func (h *Handler) GalleryHandler(w http.ResponseWriter, r *http.Request) {
	var logMessageBuilder strings.Builder
	defer utils.FlushLogMessage(h.logger, &logMessageBuilder)
	utils.AddToLogMessage(&logMessageBuilder, "[Gallery API]")

	// 1. Get User ID from Context
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		utils.RespondError(w, &logMessageBuilder, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// 2. Parse Pagination Parameters
	page := 1
	limit := 10

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = min(l, 50)
	}

	// 3. Query the preview collection
	items, total, err := h.gallery.List(r.Context(), userID, page, limit)
	if err != nil {
		utils.AddToLogMessage(&logMessageBuilder, fmt.Sprintf("Failed to list previews: %v", err))
		utils.RespondError(w, &logMessageBuilder, "Failed to fetch data", http.StatusInternalServerError)
		return
	}

	// 4. Presign media keys so the client can load them directly
	for i := range items {
		for j, ref := range items[i].Media {
			if url, err := utils.ResolveMediaURL(r.Context(), ref); err == nil {
				items[i].Media[j] = url
			}
		}
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	utils.AddToLogMessage(&logMessageBuilder, fmt.Sprintf("Returned %d of %d previews", len(items), total))
	utils.RespondJSON(w, http.StatusOK, GalleryResponse{
		Items:       items,
		Total:       total,
		CurrentPage: page,
		TotalPages:  totalPages,
	})
}
