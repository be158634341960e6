package handler

import (
	"net/http"

	"github.com/yndnr/memdev-go/internal/core/domain"
)

// handleListDevices handles GET /devices.
func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := h.svc.ListDevices(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, ListDevicesResponse{Items: devs, Total: len(devs)})
}

// handleGetDevice handles GET /devices/{id}. The id is a node name such as
// memdev0 or a bare device number.
func (h *Handler) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Device(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, info)
}

// handleDeviceChecksum handles GET /devices/{id}/checksum.
func (h *Handler) handleDeviceChecksum(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sum, err := h.svc.Checksum(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, ChecksumResponse{
		Device:    id,
		Algorithm: "murmur3-128",
		Sum:       sum,
	})
}

// handleListHandles handles GET /handles[?owner=conn-...].
func (h *Handler) handleListHandles(w http.ResponseWriter, r *http.Request) {
	items := h.svc.ListHandles(r.URL.Query().Get("owner"))
	if items == nil {
		items = make([]domain.HandleInfo, 0)
	}
	h.writeJSON(w, r, http.StatusOK, ListHandlesResponse{Items: items, Total: len(items)})
}

// handleStats handles GET /stats.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, st)
}
