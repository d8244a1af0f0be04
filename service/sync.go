package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/bipro"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/config"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/model"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/pkg/logger"
)

// CarrierConnection is the slice of bipro.Connection the sync service uses.
// It exists so handlers and tests can run against a stub carrier.
type CarrierConnection interface {
	ListShipments(ctx context.Context) ([]model.ShipmentInfo, error)
	AcknowledgeShipment(ctx context.Context, shipmentID string) (bool, error)
	Download(ctx context.Context, shipmentIDs []string) []bipro.DownloadResult
}

type carrierConnection struct {
	conn       *bipro.Connection
	maxWorkers int
}

func (c *carrierConnection) ListShipments(ctx context.Context) ([]model.ShipmentInfo, error) {
	return c.conn.Transfer.ListShipments(ctx)
}

func (c *carrierConnection) AcknowledgeShipment(ctx context.Context, shipmentID string) (bool, error) {
	return c.conn.Transfer.AcknowledgeShipment(ctx, shipmentID)
}

func (c *carrierConnection) Download(ctx context.Context, shipmentIDs []string) []bipro.DownloadResult {
	return c.conn.Coordinator(c.maxWorkers).Download(ctx, shipmentIDs)
}

// ShipmentReport is the per-shipment outcome of a sync run.
type ShipmentReport struct {
	ShipmentID   string `json:"shipment_id"`
	Documents    int    `json:"documents"`
	Acknowledged bool   `json:"acknowledged"`
	Error        string `json:"error,omitempty"`
}

// SyncReport summarizes one carrier sync. Partial success is the expected
// shape: failed shipments never abort the rest of the batch.
type SyncReport struct {
	Carrier   string           `json:"carrier"`
	Listed    int              `json:"listed"`
	Retrieved int              `json:"retrieved"`
	Failed    int              `json:"failed"`
	Shipments []ShipmentReport `json:"shipments"`
}

// SyncService owns one connection per configured carrier and drives the
// list-then-download flow, feeding retrieved documents into the pipeline.
type SyncService struct {
	connections map[string]CarrierConnection
	pipeline    *DocumentPipeline
	raw         []*bipro.Connection
}

// NewSyncService builds a connection for every configured carrier.
func NewSyncService(cfg *config.Config, pipeline *DocumentPipeline) (*SyncService, error) {
	connections := make(map[string]CarrierConnection, len(cfg.Carriers))
	raw := make([]*bipro.Connection, 0, len(cfg.Carriers))
	for i := range cfg.Carriers {
		carrier := &cfg.Carriers[i]
		conn, err := bipro.Connect(carrier, &cfg.Transfer)
		if err != nil {
			return nil, fmt.Errorf("carrier %q: %w", carrier.Name, err)
		}
		connections[carrier.Name] = &carrierConnection{
			conn:       conn,
			maxWorkers: cfg.Transfer.MaxWorkers,
		}
		raw = append(raw, conn)
	}

	return &SyncService{
		connections: connections,
		pipeline:    pipeline,
		raw:         raw,
	}, nil
}

// Close discards every carrier connection's security token.
func (s *SyncService) Close() {
	for _, conn := range s.raw {
		conn.Close()
	}
}

// Carriers returns the configured carrier names, sorted.
func (s *SyncService) Carriers() []string {
	names := make([]string, 0, len(s.connections))
	for name := range s.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListShipments lists the shipments currently available from one carrier.
func (s *SyncService) ListShipments(ctx context.Context, carrier string) ([]model.ShipmentInfo, error) {
	conn, ok := s.connections[carrier]
	if !ok {
		return nil, fmt.Errorf("unknown carrier %q", carrier)
	}
	return conn.ListShipments(ctx)
}

// SyncCarrier lists and downloads everything one carrier has available.
// Each shipment is reported independently; acknowledged shipments are those
// fully ingested on carriers that support acknowledgement.
func (s *SyncService) SyncCarrier(ctx context.Context, carrier string) (*SyncReport, error) {
	conn, ok := s.connections[carrier]
	if !ok {
		return nil, fmt.Errorf("unknown carrier %q", carrier)
	}

	ctx = context.WithValue(ctx, logger.CarrierKey, carrier)

	shipments, err := conn.ListShipments(ctx)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{
		Carrier:   carrier,
		Listed:    len(shipments),
		Shipments: make([]ShipmentReport, 0, len(shipments)),
	}
	if len(shipments) == 0 {
		return report, nil
	}

	ids := make([]string, len(shipments))
	for i, shipment := range shipments {
		ids[i] = shipment.ID
	}

	results := conn.Download(ctx, ids)
	for _, result := range results {
		entry := ShipmentReport{ShipmentID: result.ShipmentID}
		if result.Err != nil {
			report.Failed++
			entry.Error = result.Err.Error()
			report.Shipments = append(report.Shipments, entry)
			continue
		}

		report.Retrieved++
		docs := s.pipeline.Ingest(ctx, carrier, result.Content)
		entry.Documents = len(docs)

		acked, err := conn.AcknowledgeShipment(ctx, result.ShipmentID)
		if err != nil {
			logger.Warn(ctx, "shipment acknowledgement failed",
				"shipment_id", result.ShipmentID,
				"error", err,
			)
		}
		entry.Acknowledged = acked
		report.Shipments = append(report.Shipments, entry)
	}

	logger.Info(ctx, "carrier sync finished",
		"listed", report.Listed,
		"retrieved", report.Retrieved,
		"failed", report.Failed,
	)
	return report, nil
}

// SyncAll syncs every configured carrier. A failing carrier yields a report
// entry with its listing error; it never stops the other carriers.
func (s *SyncService) SyncAll(ctx context.Context) []SyncReport {
	reports := make([]SyncReport, 0, len(s.connections))
	for _, name := range s.Carriers() {
		report, err := s.SyncCarrier(ctx, name)
		if err != nil {
			logger.Error(ctx, "carrier sync failed", "carrier", name, "error", err)
			reports = append(reports, SyncReport{
				Carrier:   name,
				Shipments: []ShipmentReport{{Error: err.Error()}},
				Failed:    1,
			})
			continue
		}
		reports = append(reports, *report)
	}
	return reports
}
