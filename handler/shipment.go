package handler

import (
	"context"
	"net/http"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/model"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/service"
	"github.com/gin-gonic/gin"
)

// Syncer is the carrier-facing surface the shipment handlers need.
type Syncer interface {
	Carriers() []string
	ListShipments(ctx context.Context, carrier string) ([]model.ShipmentInfo, error)
	SyncCarrier(ctx context.Context, carrier string) (*service.SyncReport, error)
	SyncAll(ctx context.Context) []service.SyncReport
}

type ShipmentHandler struct {
	syncer Syncer
}

func NewShipmentHandler(syncer Syncer) *ShipmentHandler {
	return &ShipmentHandler{syncer: syncer}
}

// ListCarriers returns the configured carrier names.
func (h *ShipmentHandler) ListCarriers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"carriers": h.syncer.Carriers()})
}

// ListShipments returns the shipments a carrier currently has available.
func (h *ShipmentHandler) ListShipments(c *gin.Context) {
	carrier := c.Param("name")
	if !h.knownCarrier(carrier) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Carrier not found"})
		return
	}

	shipments, err := h.syncer.ListShipments(c.Request.Context(), carrier)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to list shipments: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"carrier":   carrier,
		"shipments": shipments,
	})
}

// SyncCarrier downloads and ingests everything one carrier has available.
func (h *ShipmentHandler) SyncCarrier(c *gin.Context) {
	carrier := c.Param("name")
	if !h.knownCarrier(carrier) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Carrier not found"})
		return
	}

	report, err := h.syncer.SyncCarrier(c.Request.Context(), carrier)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Sync failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// SyncAll runs a sync against every configured carrier.
func (h *ShipmentHandler) SyncAll(c *gin.Context) {
	reports := h.syncer.SyncAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (h *ShipmentHandler) knownCarrier(name string) bool {
	for _, carrier := range h.syncer.Carriers() {
		if carrier == name {
			return true
		}
	}
	return false
}
