package api

import (
	"net/http"

	"github.com/ayusman/aicam/internal/store"
)

// StatsHandler reports how often each label was recorded.
type StatsHandler struct {
	store *store.Store
}

// NewStatsHandler creates a new StatsHandler with the given store.
func NewStatsHandler(s *store.Store) *StatsHandler {
	return &StatsHandler{store: s}
}

type labelCountResponse struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type statsResponse struct {
	Frames int                  `json:"frames"`
	Labels []labelCountResponse `json:"labels"`
}

// ServeHTTP handles GET /api/stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frames, err := h.store.Frames().Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count frames")
		return
	}
	counts, err := h.store.Frames().LabelCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count labels")
		return
	}

	response := statsResponse{
		Frames: frames,
		Labels: make([]labelCountResponse, 0, len(counts)),
	}
	for _, c := range counts {
		response.Labels = append(response.Labels, labelCountResponse{Label: c.Label, Count: c.Count})
	}
	writeJSON(w, http.StatusOK, response)
}
