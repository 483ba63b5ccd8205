package domain

import (
	"context"
	"time"
)

// =============================================================================
// Knowledge Base Document
// =============================================================================

// DocumentStatus tracks ingestion progress of a knowledge base document.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is a source file uploaded to the knowledge base.
// Documents are never hard-deleted; Active=false removes them from retrieval.
type Document struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title"`
	Category    string         `json:"category"`
	Description *string        `json:"description,omitempty"`
	Filename    string         `json:"filename"`
	ContentHash string         `json:"content_hash"`
	Preview     string         `json:"preview"`
	ChunkCount  int            `json:"chunk_count"`
	Status      DocumentStatus `json:"status"`
	Error       *string        `json:"error,omitempty"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DocumentRepository persists knowledge base documents.
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id int64) (*Document, error)
	// FindActiveByHash returns nil when no active document shares the hash.
	FindActiveByHash(ctx context.Context, hash string) (*Document, error)
	List(ctx context.Context, category string, page *PageRequest) ([]*Document, int64, error)
	UpdateStatus(ctx context.Context, id int64, status DocumentStatus, errMsg *string) error
	SetChunkCount(ctx context.Context, id int64, count int) error
	Deactivate(ctx context.Context, id int64) error
}

// =============================================================================
// Chunk
// =============================================================================

// Chunk is a contiguous slice of a document's text with its embedding vector.
// The chunk set of a document is only ever replaced as a whole.
type Chunk struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"document_id"`
	Seq        int       `json:"seq"`
	Content    string    `json:"content"`
	CharCount  int       `json:"char_count"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkRecord is a chunk joined with its document for similarity search.
type ChunkRecord struct {
	ChunkID       int64
	DocumentID    int64
	DocumentTitle string
	Category      string
	Seq           int
	Content       string
	Embedding     []float32
}

// ChunkRepository persists chunks and their vectors.
type ChunkRepository interface {
	// ReplaceForDocument atomically swaps the full chunk set of a document.
	ReplaceForDocument(ctx context.Context, documentID int64, chunks []*Chunk) error
	// ListActive returns chunks of active documents, oldest insertion first.
	// An empty category means no filter.
	ListActive(ctx context.Context, category string) ([]*ChunkRecord, error)
	DeleteByDocument(ctx context.Context, documentID int64) error
	CountByDocument(ctx context.Context, documentID int64) (int, error)
}
