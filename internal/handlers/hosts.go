package handlers

import (
	"net/http"

	"github.com/23blocks-OS/ai-maestro/internal/models"
)

// HostListResponse represents the host directory listing.
type HostListResponse struct {
	Self  string         `json:"self"`
	Hosts []*models.Host `json:"hosts"`
	Count int            `json:"count"`
}

// ListHosts handles the host directory listing.
func (h *Handler) ListHosts(w http.ResponseWriter, r *http.Request) {
	hostList := h.dir.All()
	h.JSON(w, http.StatusOK, HostListResponse{
		Self:  h.dir.SelfID(),
		Hosts: hostList,
		Count: len(hostList),
	})
}

// ReloadHosts drops the cached host directory so the next lookup re-reads
// the configuration.
func (h *Handler) ReloadHosts(w http.ResponseWriter, r *http.Request) {
	h.dir.Invalidate()
	h.JSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
