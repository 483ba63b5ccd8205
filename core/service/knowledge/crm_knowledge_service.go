package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"crm_server/core/agent/rag"
	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/pkg/apperr"
	"crm_server/pkg/logger"
)

const previewLen = 200

// BatchEmbedder turns chunk texts into vectors. Satisfied by *rag.Embedder.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Service owns the knowledge base lifecycle: upload, ingest, search,
// deactivate.
type Service struct {
	documents domain.DocumentRepository
	chunks    domain.ChunkRepository
	chunker   *rag.Chunker
	embedder  BatchEmbedder
	retriever *rag.Retriever
	producer  out.MessageProducer

	embedBatchSize  int
	embedConcurrent int
}

func NewService(
	documents domain.DocumentRepository,
	chunks domain.ChunkRepository,
	chunker *rag.Chunker,
	embedder BatchEmbedder,
	retriever *rag.Retriever,
	producer out.MessageProducer,
	embedBatchSize, embedConcurrent int,
) *Service {
	if embedBatchSize <= 0 {
		embedBatchSize = 16
	}
	if embedConcurrent <= 0 {
		embedConcurrent = 4
	}
	return &Service{
		documents:       documents,
		chunks:          chunks,
		chunker:         chunker,
		embedder:        embedder,
		retriever:       retriever,
		producer:        producer,
		embedBatchSize:  embedBatchSize,
		embedConcurrent: embedConcurrent,
	}
}

type UploadInput struct {
	Title       string
	Category    string
	Description *string
	Filename    string
	Data        []byte
}

// Upload registers a document and enqueues its ingestion. Content identical
// to an active document is rejected before any extraction work happens.
func (s *Service) Upload(ctx context.Context, input *UploadInput) (*domain.Document, error) {
	if input.Title == "" {
		return nil, apperr.MissingField("title")
	}
	if len(input.Data) == 0 {
		return nil, apperr.MissingField("file")
	}

	hash := contentHash(input.Data)
	if existing, err := s.documents.FindActiveByHash(ctx, hash); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, apperr.DuplicateDocument(hash)
	}

	text, err := ExtractText(input.Filename, input.Data)
	if err != nil {
		return nil, err
	}

	doc := &domain.Document{
		Title:       input.Title,
		Category:    input.Category,
		Description: input.Description,
		Filename:    input.Filename,
		ContentHash: hash,
		Preview:     preview(text),
		Status:      domain.DocumentPending,
		Active:      true,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		return nil, err
	}

	// Extracted text rides along in the job payload so the worker does not
	// re-parse the upload.
	if err := s.producer.PublishIngest(ctx, &out.IngestJob{
		DocumentID: doc.ID,
		Text:       text,
	}); err != nil {
		logger.WithFields(map[string]any{
			"document_id": doc.ID,
			"error":       err.Error(),
		}).Error("failed to enqueue ingestion")
		return nil, err
	}

	return doc, nil
}

// Ingest chunks, embeds and stores a document's text, then flips its status.
// Safe to re-run: the chunk set is replaced as a whole.
func (s *Service) Ingest(ctx context.Context, documentID int64, text string) error {
	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if !doc.Active {
		logger.WithField("document_id", documentID).Info("skipping ingestion of deactivated document")
		return nil
	}

	if err := s.documents.UpdateStatus(ctx, documentID, domain.DocumentProcessing, nil); err != nil {
		return err
	}

	if err := s.ingest(ctx, documentID, text); err != nil {
		msg := err.Error()
		if updateErr := s.documents.UpdateStatus(ctx, documentID, domain.DocumentFailed, &msg); updateErr != nil {
			logger.WithField("document_id", documentID).WithError(updateErr).Error("failed to mark document failed")
		}
		return err
	}

	return s.documents.UpdateStatus(ctx, documentID, domain.DocumentCompleted, nil)
}

func (s *Service) ingest(ctx context.Context, documentID int64, text string) error {
	pieces := s.chunker.Split(text)
	if len(pieces) == 0 {
		return fmt.Errorf("document produced no chunks")
	}

	embeddings := make([][]float32, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.embedConcurrent)

	for start := 0; start < len(pieces); start += s.embedBatchSize {
		start := start
		end := start + s.embedBatchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		g.Go(func() error {
			batch, err := s.embedder.EmbedBatch(gctx, pieces[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch at %d: %w", start, err)
			}
			copy(embeddings[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	now := time.Now()
	chunks := make([]*domain.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &domain.Chunk{
			DocumentID: documentID,
			Seq:        i,
			Content:    piece,
			CharCount:  len([]rune(piece)),
			Embedding:  embeddings[i],
			CreatedAt:  now,
		}
	}

	if err := s.chunks.ReplaceForDocument(ctx, documentID, chunks); err != nil {
		return err
	}
	return s.documents.SetChunkCount(ctx, documentID, len(chunks))
}

// Search runs a similarity query against the active knowledge base.
func (s *Service) Search(ctx context.Context, query, category string, limit int, minScore float64) ([]*rag.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.MissingField("query")
	}
	return s.retriever.Retrieve(ctx, &rag.RetrievalRequest{
		Query:    query,
		Category: category,
		Limit:    limit,
		MinScore: minScore,
	})
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Document, error) {
	return s.documents.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, category string, page *domain.PageRequest) ([]*domain.Document, int64, error) {
	return s.documents.List(ctx, category, page)
}

// Deactivate soft-deletes a document: it drops out of retrieval immediately
// but its row and chunks stay for audit.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if _, err := s.documents.GetByID(ctx, id); err != nil {
		return err
	}
	return s.documents.Deactivate(ctx, id)
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func preview(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= previewLen {
		return string(runes)
	}
	return string(runes[:previewLen]) + "..."
}
