// Package api provides the HTTP handlers for the detection history.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/aicam/internal/store"
)

// DefaultFrameLimit is the number of frames listed when no limit is given.
const DefaultFrameLimit = 50

// FramesHandler handles HTTP requests for recorded frames.
type FramesHandler struct {
	store *store.Store
}

// NewFramesHandler creates a new FramesHandler with the given store.
func NewFramesHandler(s *store.Store) *FramesHandler {
	return &FramesHandler{store: s}
}

// ServeHTTP routes /api/frames and /api/frames/{id}.
func (h *FramesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/frames")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, path)
	case http.MethodDelete:
		h.delete(w, r, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type detectionResponse struct {
	Box      [4]int  `json:"box"`
	Category int     `json:"category"`
	Label    string  `json:"label"`
	Conf     float64 `json:"conf"`
}

type frameResponse struct {
	ID         string              `json:"id"`
	Path       string              `json:"path"`
	Sequence   uint64              `json:"sequence"`
	CapturedAt string              `json:"captured_at"`
	Detections []detectionResponse `json:"detections"`
}

type listFramesResponse struct {
	Frames []frameResponse `json:"frames"`
	Total  int             `json:"total"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toResponse(f *store.Frame) frameResponse {
	resp := frameResponse{
		ID:         f.ID,
		Path:       f.Path,
		Sequence:   f.Sequence,
		CapturedAt: f.CapturedAt.Format(time.RFC3339Nano),
		Detections: make([]detectionResponse, 0, len(f.Detections)),
	}
	for _, d := range f.Detections {
		resp.Detections = append(resp.Detections, detectionResponse{
			Box:      [4]int{d.X, d.Y, d.Width, d.Height},
			Category: d.Category,
			Label:    d.Label,
			Conf:     d.Confidence,
		})
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/frames?limit=n, newest first.
func (h *FramesHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := DefaultFrameLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	frames, err := h.store.Frames().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list frames")
		return
	}
	total, err := h.store.Frames().Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count frames")
		return
	}

	response := listFramesResponse{
		Frames: make([]frameResponse, 0, len(frames)),
		Total:  total,
	}
	for _, f := range frames {
		response.Frames = append(response.Frames, toResponse(f))
	}
	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/frames/{id}.
func (h *FramesHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	frame, err := h.store.Frames().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Frame not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get frame")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(frame))
}

// delete handles DELETE /api/frames/{id}. The image file stays on disk.
func (h *FramesHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Frames().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Frame not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete frame")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
