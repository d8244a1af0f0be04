package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/bipro"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/model"
)

type stubConnection struct {
	shipments []model.ShipmentInfo
	listErr   error
	contents  map[string]*model.ShipmentContent
	failIDs   map[string]error
	acked     []string
	ackOK     bool
}

func (s *stubConnection) ListShipments(ctx context.Context) ([]model.ShipmentInfo, error) {
	return s.shipments, s.listErr
}

func (s *stubConnection) AcknowledgeShipment(ctx context.Context, shipmentID string) (bool, error) {
	s.acked = append(s.acked, shipmentID)
	return s.ackOK, nil
}

func (s *stubConnection) Download(ctx context.Context, shipmentIDs []string) []bipro.DownloadResult {
	results := make([]bipro.DownloadResult, len(shipmentIDs))
	for i, id := range shipmentIDs {
		if err, ok := s.failIDs[id]; ok {
			results[i] = bipro.DownloadResult{ShipmentID: id, Err: err}
			continue
		}
		results[i] = bipro.DownloadResult{ShipmentID: id, Content: s.contents[id]}
	}
	return results
}

func newTestSyncService(conn CarrierConnection) (*SyncService, *DocumentPipeline) {
	pipeline := NewDocumentPipeline(0, newFakeArchiver())
	return &SyncService{
		connections: map[string]CarrierConnection{"demo-vu": conn},
		pipeline:    pipeline,
	}, pipeline
}

func shipmentInfo(id string) model.ShipmentInfo {
	return model.ShipmentInfo{
		ID:        id,
		Category:  "100002000",
		CreatedAt: time.Now(),
	}
}

func TestSyncCarrier(t *testing.T) {
	conn := &stubConnection{
		shipments: []model.ShipmentInfo{shipmentInfo("s1"), shipmentInfo("s2")},
		contents: map[string]*model.ShipmentContent{
			"s1": shipmentContent("s1", model.ShipmentDocument{Filename: "a.pdf", Content: []byte("a")}),
			"s2": shipmentContent("s2", model.ShipmentDocument{Filename: "b.pdf", Content: []byte("b")}),
		},
		ackOK: true,
	}
	svc, pipeline := newTestSyncService(conn)

	report, err := svc.SyncCarrier(context.Background(), "demo-vu")
	if err != nil {
		t.Fatalf("SyncCarrier failed: %v", err)
	}

	if report.Listed != 2 || report.Retrieved != 2 || report.Failed != 0 {
		t.Errorf("Unexpected report: %+v", report)
	}
	if pipeline.Count() != 2 {
		t.Errorf("Expected 2 documents in pipeline, got %d", pipeline.Count())
	}
	if len(conn.acked) != 2 {
		t.Errorf("Expected 2 acknowledgements, got %d", len(conn.acked))
	}
	for _, entry := range report.Shipments {
		if !entry.Acknowledged {
			t.Errorf("Expected shipment %s acknowledged", entry.ShipmentID)
		}
	}
}

func TestSyncCarrierPartialSuccess(t *testing.T) {
	conn := &stubConnection{
		shipments: []model.ShipmentInfo{shipmentInfo("s1"), shipmentInfo("s2"), shipmentInfo("s3")},
		contents: map[string]*model.ShipmentContent{
			"s1": shipmentContent("s1", model.ShipmentDocument{Filename: "a.pdf", Content: []byte("a")}),
			"s3": shipmentContent("s3", model.ShipmentDocument{Filename: "c.pdf", Content: []byte("c")}),
		},
		failIDs: map[string]error{
			"s2": &bipro.TransferError{Op: "getShipment", Status: 500, Msg: "fault"},
		},
	}
	svc, pipeline := newTestSyncService(conn)

	report, err := svc.SyncCarrier(context.Background(), "demo-vu")
	if err != nil {
		t.Fatalf("SyncCarrier failed: %v", err)
	}

	// One shipment failing must not abort the batch.
	if report.Retrieved != 2 || report.Failed != 1 {
		t.Errorf("Expected 2 retrieved and 1 failed, got %d/%d", report.Retrieved, report.Failed)
	}
	if pipeline.Count() != 2 {
		t.Errorf("Expected 2 documents, got %d", pipeline.Count())
	}

	var failedEntry *ShipmentReport
	for i := range report.Shipments {
		if report.Shipments[i].ShipmentID == "s2" {
			failedEntry = &report.Shipments[i]
		}
	}
	if failedEntry == nil || failedEntry.Error == "" {
		t.Error("Expected error recorded for s2")
	}
}

func TestSyncCarrierEmptyListing(t *testing.T) {
	svc, _ := newTestSyncService(&stubConnection{})

	report, err := svc.SyncCarrier(context.Background(), "demo-vu")
	if err != nil {
		t.Fatalf("SyncCarrier failed: %v", err)
	}
	if report.Listed != 0 || len(report.Shipments) != 0 {
		t.Errorf("Unexpected report for empty listing: %+v", report)
	}
}

func TestSyncCarrierUnknown(t *testing.T) {
	svc, _ := newTestSyncService(&stubConnection{})
	if _, err := svc.SyncCarrier(context.Background(), "who-dis"); err == nil {
		t.Error("Expected error for unknown carrier")
	}
}

func TestSyncCarrierListFailure(t *testing.T) {
	conn := &stubConnection{listErr: errors.New("carrier down")}
	svc, _ := newTestSyncService(conn)

	if _, err := svc.SyncCarrier(context.Background(), "demo-vu"); err == nil {
		t.Error("Expected listing error to propagate")
	}
}

func TestSyncAllContinuesPastFailures(t *testing.T) {
	pipeline := NewDocumentPipeline(0, newFakeArchiver())
	svc := &SyncService{
		connections: map[string]CarrierConnection{
			"vu-a": &stubConnection{listErr: errors.New("down")},
			"vu-b": &stubConnection{
				shipments: []model.ShipmentInfo{shipmentInfo("s1")},
				contents: map[string]*model.ShipmentContent{
					"s1": shipmentContent("s1", model.ShipmentDocument{Filename: "a.pdf", Content: []byte("a")}),
				},
			},
		},
		pipeline: pipeline,
	}

	reports := svc.SyncAll(context.Background())
	if len(reports) != 2 {
		t.Fatalf("Expected 2 reports, got %d", len(reports))
	}
	// Sorted carrier order: vu-a first with its failure, vu-b synced fine.
	if reports[0].Carrier != "vu-a" || reports[0].Failed != 1 {
		t.Errorf("Expected vu-a failure report, got %+v", reports[0])
	}
	if reports[1].Carrier != "vu-b" || reports[1].Retrieved != 1 {
		t.Errorf("Expected vu-b success report, got %+v", reports[1])
	}
}

func TestCarriers(t *testing.T) {
	svc := &SyncService{
		connections: map[string]CarrierConnection{
			"vu-b": &stubConnection{},
			"vu-a": &stubConnection{},
		},
	}
	carriers := svc.Carriers()
	if len(carriers) != 2 || carriers[0] != "vu-a" || carriers[1] != "vu-b" {
		t.Errorf("Expected sorted carriers, got %v", carriers)
	}
}
