package service

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/model"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/pkg/logger"
)

// Archiver is the slice of ArchiveService the pipeline needs.
type Archiver interface {
	StoreDocument(ctx context.Context, objectName string, data []byte, contentType string) error
}

// DocumentPipeline tracks retrieved documents and walks each one through its
// lifecycle: downloaded, validated, classified, renamed, archived. Invalid
// content is quarantined; archive failures end in the error state. Records
// are kept in memory, capped at maxDocuments.
type DocumentPipeline struct {
	mu           sync.RWMutex
	documents    map[string]*model.Document
	maxDocuments int // 0 = unlimited
	archiver     Archiver
}

func NewDocumentPipeline(maxDocuments int, archiver Archiver) *DocumentPipeline {
	if maxDocuments < 0 {
		maxDocuments = 0
	}
	return &DocumentPipeline{
		documents:    make(map[string]*model.Document),
		maxDocuments: maxDocuments,
		archiver:     archiver,
	}
}

// Ingest registers every document of a decoded shipment in state downloaded
// and runs each through the processing steps. One document failing does not
// stop the others; the returned records carry the per-document outcome.
func (p *DocumentPipeline) Ingest(ctx context.Context, carrier string, content *model.ShipmentContent) []*model.Document {
	docs := make([]*model.Document, 0, len(content.Documents))
	for i := range content.Documents {
		doc := &model.Document{
			ID:          uuid.New().String(),
			Carrier:     carrier,
			ShipmentID:  content.ShipmentID,
			Filename:    content.Documents[i].Filename,
			ContentType: content.Documents[i].ContentType,
			Category:    content.Metadata["category"],
			State:       model.StateDownloaded,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		p.save(doc)

		p.process(ctx, doc, content.Documents[i].Content)
		docs = append(docs, p.Get(doc.ID))
	}
	return docs
}

// process runs one document through validation, classification, renaming and
// archival. Every step goes through the state machine; an illegal transition
// here is a programming error and surfaces as the error state.
func (p *DocumentPipeline) process(ctx context.Context, doc *model.Document, data []byte) {
	if reason := validateDocument(doc, data); reason != "" {
		logger.Warn(ctx, "document quarantined",
			"document_id", doc.ID,
			"shipment_id", doc.ShipmentID,
			"reason", reason,
		)
		p.setState(doc.ID, model.StateQuarantined, reason)
		return
	}
	if err := p.setState(doc.ID, model.StateValidated, ""); err != nil {
		p.setState(doc.ID, model.StateError, err.Error())
		return
	}

	// Classification here only pins the carrier's category code; naming it
	// is the job of an external mapping table.
	if err := p.setState(doc.ID, model.StateClassified, ""); err != nil {
		p.setState(doc.ID, model.StateError, err.Error())
		return
	}

	objectName := archiveObjectName(doc)
	p.mu.Lock()
	doc.ArchiveObject = objectName
	p.mu.Unlock()
	if err := p.setState(doc.ID, model.StateRenamed, ""); err != nil {
		p.setState(doc.ID, model.StateError, err.Error())
		return
	}

	if p.archiver != nil {
		if err := p.archiver.StoreDocument(ctx, objectName, data, doc.ContentType); err != nil {
			logger.Error(ctx, "document archival failed",
				"document_id", doc.ID,
				"object", objectName,
				"error", err,
			)
			p.setState(doc.ID, model.StateError, err.Error())
			return
		}
	}
	if err := p.setState(doc.ID, model.StateArchived, ""); err != nil {
		p.setState(doc.ID, model.StateError, err.Error())
	}
}

// validateDocument returns a quarantine reason, or "" when the document is
// acceptable.
func validateDocument(doc *model.Document, data []byte) string {
	if len(data) == 0 {
		return "document has no content"
	}
	if doc.Filename == "" {
		return "document has no filename"
	}
	if strings.ContainsAny(doc.Filename, "/\\") {
		return "document filename contains path separators"
	}
	return ""
}

// archiveObjectName builds the deterministic storage name of a document.
func archiveObjectName(doc *model.Document) string {
	return path.Join(doc.Carrier, doc.ShipmentID, fmt.Sprintf("%s_%s", doc.ID, doc.Filename))
}

func (p *DocumentPipeline) save(doc *model.Document) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc.UpdatedAt = time.Now()
	p.documents[doc.ID] = doc

	p.cleanupIfNeeded()
}

// setState applies a lifecycle transition, refusing illegal ones without
// touching the recorded state.
func (p *DocumentPipeline) setState(id string, target model.DocumentState, errMsg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, ok := p.documents[id]
	if !ok {
		return fmt.Errorf("document %q not found", id)
	}
	if !model.CanTransition(doc.State, target) {
		return &model.InvalidTransitionError{From: doc.State, To: target}
	}
	doc.State = target
	doc.ErrorMsg = errMsg
	doc.UpdatedAt = time.Now()
	return nil
}

// Transition exposes setState for callers outside the pipeline (the
// surrounding tooling drives quarantine reviews through it).
func (p *DocumentPipeline) Transition(id string, target model.DocumentState, errMsg string) error {
	return p.setState(id, target, errMsg)
}

func (p *DocumentPipeline) Get(id string) *model.Document {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if doc, ok := p.documents[id]; ok {
		copied := *doc
		return &copied
	}
	return nil
}

// List returns all tracked documents, newest first.
func (p *DocumentPipeline) List() []*model.Document {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*model.Document, 0, len(p.documents))
	for _, doc := range p.documents {
		copied := *doc
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// ListByCarrier returns the documents of one carrier, newest first.
func (p *DocumentPipeline) ListByCarrier(carrier string) []*model.Document {
	all := p.List()
	result := all[:0]
	for _, doc := range all {
		if doc.Carrier == carrier {
			result = append(result, doc)
		}
	}
	return result
}

// Delete removes a document record from the store. It reports whether the
// record existed; cleaning up the archived object is the caller's job.
func (p *DocumentPipeline) Delete(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.documents[id]; !ok {
		return false
	}
	delete(p.documents, id)
	return true
}

// Count returns the number of tracked documents.
func (p *DocumentPipeline) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.documents)
}

// cleanupIfNeeded removes the oldest documents when the cap is exceeded.
// Must be called with lock held.
func (p *DocumentPipeline) cleanupIfNeeded() {
	if p.maxDocuments <= 0 {
		return // Unlimited
	}

	if len(p.documents) <= p.maxDocuments {
		return
	}

	docs := make([]*model.Document, 0, len(p.documents))
	for _, doc := range p.documents {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})

	removeCount := len(docs) - p.maxDocuments
	for i := 0; i < removeCount; i++ {
		slog.Info("auto-cleaning old document record",
			"document_id", docs[i].ID,
			"created_at", docs[i].CreatedAt,
		)
		delete(p.documents, docs[i].ID)
	}
}
