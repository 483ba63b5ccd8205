package knowledge

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"crm_server/core/agent/rag"
	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/pkg/apperr"
)

type mockDocRepo struct {
	docs      map[int64]*domain.Document
	byHash    map[string]*domain.Document
	nextID    int64
	statusLog []domain.DocumentStatus
}

func newMockDocRepo() *mockDocRepo {
	return &mockDocRepo{
		docs:   make(map[int64]*domain.Document),
		byHash: make(map[string]*domain.Document),
		nextID: 1,
	}
}

func (m *mockDocRepo) Create(ctx context.Context, doc *domain.Document) error {
	doc.ID = m.nextID
	m.nextID++
	m.docs[doc.ID] = doc
	m.byHash[doc.ContentHash] = doc
	return nil
}

func (m *mockDocRepo) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, apperr.NotFound("document")
	}
	return doc, nil
}

func (m *mockDocRepo) FindActiveByHash(ctx context.Context, hash string) (*domain.Document, error) {
	doc, ok := m.byHash[hash]
	if !ok || !doc.Active {
		return nil, nil
	}
	return doc, nil
}

func (m *mockDocRepo) List(ctx context.Context, category string, page *domain.PageRequest) ([]*domain.Document, int64, error) {
	return nil, 0, nil
}

func (m *mockDocRepo) UpdateStatus(ctx context.Context, id int64, status domain.DocumentStatus, errMsg *string) error {
	doc, ok := m.docs[id]
	if !ok {
		return apperr.NotFound("document")
	}
	doc.Status = status
	doc.Error = errMsg
	m.statusLog = append(m.statusLog, status)
	return nil
}

func (m *mockDocRepo) SetChunkCount(ctx context.Context, id int64, count int) error {
	m.docs[id].ChunkCount = count
	return nil
}

func (m *mockDocRepo) Deactivate(ctx context.Context, id int64) error {
	doc, ok := m.docs[id]
	if !ok {
		return apperr.NotFound("document")
	}
	doc.Active = false
	return nil
}

type mockProducer struct {
	ingestJobs []*out.IngestJob
}

func (m *mockProducer) PublishClassify(ctx context.Context, job *out.ClassifyJob) error { return nil }
func (m *mockProducer) PublishDraft(ctx context.Context, job *out.DraftJob) error       { return nil }
func (m *mockProducer) PublishSend(ctx context.Context, job *out.SendJob) error         { return nil }

func (m *mockProducer) PublishIngest(ctx context.Context, job *out.IngestJob) error {
	m.ingestJobs = append(m.ingestJobs, job)
	return nil
}

func newUploadService() (*Service, *mockDocRepo, *mockProducer) {
	docs := newMockDocRepo()
	producer := &mockProducer{}
	svc := NewService(docs, nil, rag.NewChunker(0, 0), nil, nil, producer, 0, 0)
	return svc, docs, producer
}

func TestUploadRegistersAndEnqueues(t *testing.T) {
	svc, _, producer := newUploadService()

	doc, err := svc.Upload(context.Background(), &UploadInput{
		Title:    "Product catalog",
		Category: "products",
		Filename: "catalog.txt",
		Data:     []byte("Model A-100: 12W LED panel, MOQ 500 units."),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Status != domain.DocumentPending {
		t.Errorf("expected pending status, got %s", doc.Status)
	}
	if doc.ContentHash == "" {
		t.Error("expected content hash set")
	}
	if !strings.Contains(doc.Preview, "Model A-100") {
		t.Errorf("expected preview from extracted text, got %q", doc.Preview)
	}
	if len(producer.ingestJobs) != 1 {
		t.Fatalf("expected one ingest job, got %d", len(producer.ingestJobs))
	}
	if producer.ingestJobs[0].DocumentID != doc.ID {
		t.Errorf("expected job for document %d, got %d", doc.ID, producer.ingestJobs[0].DocumentID)
	}
	if producer.ingestJobs[0].Text == "" {
		t.Error("expected extracted text carried in the job")
	}
}

func TestUploadRejectsDuplicateContent(t *testing.T) {
	svc, _, _ := newUploadService()
	ctx := context.Background()

	data := []byte("identical content")
	if _, err := svc.Upload(ctx, &UploadInput{Title: "first", Filename: "a.txt", Data: data}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := svc.Upload(ctx, &UploadInput{Title: "second", Filename: "b.txt", Data: data})
	if !apperr.IsCode(err, apperr.CodeDuplicateDocument) {
		t.Errorf("expected DUPLICATE_DOCUMENT, got %v", err)
	}
}

func TestUploadDuplicateOfDeactivated(t *testing.T) {
	svc, docs, _ := newUploadService()
	ctx := context.Background()

	data := []byte("replaceable content")
	doc, err := svc.Upload(ctx, &UploadInput{Title: "first", Filename: "a.txt", Data: data})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := docs.Deactivate(ctx, doc.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Deactivated documents free their hash for re-upload.
	if _, err := svc.Upload(ctx, &UploadInput{Title: "again", Filename: "a.txt", Data: data}); err != nil {
		t.Errorf("expected re-upload after deactivation to succeed, got %v", err)
	}
}

func TestUploadValidation(t *testing.T) {
	svc, _, _ := newUploadService()
	ctx := context.Background()

	if _, err := svc.Upload(ctx, &UploadInput{Filename: "a.txt", Data: []byte("x")}); !apperr.IsCode(err, apperr.CodeMissingField) {
		t.Errorf("expected MISSING_FIELD for empty title, got %v", err)
	}
	if _, err := svc.Upload(ctx, &UploadInput{Title: "t", Filename: "a.txt"}); !apperr.IsCode(err, apperr.CodeMissingField) {
		t.Errorf("expected MISSING_FIELD for empty file, got %v", err)
	}
	if _, err := svc.Upload(ctx, &UploadInput{Title: "t", Filename: "a.exe", Data: []byte("x")}); !apperr.IsCode(err, apperr.CodeUnsupportedFile) {
		t.Errorf("expected UNSUPPORTED_FILE_TYPE, got %v", err)
	}
}

func TestDeactivateMissingDocument(t *testing.T) {
	svc, _, _ := newUploadService()

	err := svc.Deactivate(context.Background(), 99)
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

type mockChunkRepo struct {
	byDocument map[int64][]*domain.Chunk
	replaced   int
}

func newMockChunkRepo() *mockChunkRepo {
	return &mockChunkRepo{byDocument: make(map[int64][]*domain.Chunk)}
}

func (m *mockChunkRepo) ReplaceForDocument(ctx context.Context, documentID int64, chunks []*domain.Chunk) error {
	m.byDocument[documentID] = chunks
	m.replaced++
	return nil
}

func (m *mockChunkRepo) ListActive(ctx context.Context, category string) ([]*domain.ChunkRecord, error) {
	return nil, nil
}

func (m *mockChunkRepo) DeleteByDocument(ctx context.Context, documentID int64) error {
	delete(m.byDocument, documentID)
	return nil
}

func (m *mockChunkRepo) CountByDocument(ctx context.Context, documentID int64) (int, error) {
	return len(m.byDocument[documentID]), nil
}

type mockEmbedder struct {
	err     error
	batches int
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.batches++
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 1}
	}
	return vectors, nil
}

func newIngestService(embedder *mockEmbedder) (*Service, *mockDocRepo, *mockChunkRepo) {
	docs := newMockDocRepo()
	chunks := newMockChunkRepo()
	svc := NewService(docs, chunks, rag.NewChunker(0, 0), embedder, nil, &mockProducer{}, 2, 2)
	return svc, docs, chunks
}

func uploadedDoc(t *testing.T, docs *mockDocRepo) *domain.Document {
	t.Helper()
	doc := &domain.Document{
		Title:       "catalog",
		ContentHash: "hash-1",
		Status:      domain.DocumentPending,
		Active:      true,
	}
	if err := docs.Create(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return doc
}

func TestIngestCompletesDocument(t *testing.T) {
	svc, docs, chunks := newIngestService(&mockEmbedder{})
	doc := uploadedDoc(t, docs)

	err := svc.Ingest(context.Background(), doc.ID, "Model A-100: 12W LED panel. MOQ 500 units.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []domain.DocumentStatus{domain.DocumentProcessing, domain.DocumentCompleted}
	if !reflect.DeepEqual(docs.statusLog, want) {
		t.Errorf("expected status transitions %v, got %v", want, docs.statusLog)
	}
	if doc.Error != nil {
		t.Errorf("expected no error message, got %q", *doc.Error)
	}

	stored := chunks.byDocument[doc.ID]
	if len(stored) == 0 {
		t.Fatal("expected chunks stored")
	}
	for i, chunk := range stored {
		if chunk.Seq != i {
			t.Errorf("expected chunk seq %d, got %d", i, chunk.Seq)
		}
		if len(chunk.Embedding) == 0 {
			t.Errorf("expected chunk %d embedded", i)
		}
	}
	if doc.ChunkCount != len(stored) {
		t.Errorf("expected chunk count %d, got %d", len(stored), doc.ChunkCount)
	}
}

func TestIngestFailureMarksDocument(t *testing.T) {
	svc, docs, chunks := newIngestService(&mockEmbedder{err: errors.New("embedding provider down")})
	doc := uploadedDoc(t, docs)

	err := svc.Ingest(context.Background(), doc.ID, "some document text")
	if err == nil {
		t.Fatal("expected ingestion error")
	}
	want := []domain.DocumentStatus{domain.DocumentProcessing, domain.DocumentFailed}
	if !reflect.DeepEqual(docs.statusLog, want) {
		t.Errorf("expected status transitions %v, got %v", want, docs.statusLog)
	}
	if doc.Error == nil || !strings.Contains(*doc.Error, "embedding provider down") {
		t.Errorf("expected failure reason recorded, got %v", doc.Error)
	}
	if len(chunks.byDocument[doc.ID]) != 0 {
		t.Error("expected no chunks stored on failure")
	}
}

func TestIngestReplacesChunksOnRerun(t *testing.T) {
	svc, docs, chunks := newIngestService(&mockEmbedder{})
	doc := uploadedDoc(t, docs)
	ctx := context.Background()

	if err := svc.Ingest(ctx, doc.ID, "first revision of the document"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Ingest(ctx, doc.ID, "second revision"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if chunks.replaced != 2 {
		t.Errorf("expected two whole-set replacements, got %d", chunks.replaced)
	}
	stored := chunks.byDocument[doc.ID]
	if len(stored) != 1 || stored[0].Content != "second revision" {
		t.Errorf("expected only the second revision's chunks, got %+v", stored)
	}
	if doc.Status != domain.DocumentCompleted {
		t.Errorf("expected completed status after re-ingest, got %s", doc.Status)
	}
}

func TestIngestSkipsDeactivatedDocument(t *testing.T) {
	embedder := &mockEmbedder{}
	svc, docs, chunks := newIngestService(embedder)
	doc := uploadedDoc(t, docs)
	ctx := context.Background()

	if err := docs.Deactivate(ctx, doc.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Ingest(ctx, doc.ID, "text for a dead document"); err != nil {
		t.Fatalf("expected silent skip, got %v", err)
	}
	if doc.Status != domain.DocumentPending {
		t.Errorf("expected status untouched, got %s", doc.Status)
	}
	if embedder.batches != 0 || len(chunks.byDocument[doc.ID]) != 0 {
		t.Error("expected no embedding or storage for a deactivated document")
	}
}

func TestIngestEmptyTextFails(t *testing.T) {
	svc, docs, _ := newIngestService(&mockEmbedder{})
	doc := uploadedDoc(t, docs)

	err := svc.Ingest(context.Background(), doc.ID, "   \n\n  ")
	if err == nil {
		t.Fatal("expected error for text with no chunks")
	}
	if doc.Status != domain.DocumentFailed {
		t.Errorf("expected failed status, got %s", doc.Status)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	svc, _, _ := newUploadService()

	if _, err := svc.Search(context.Background(), "   ", "", 0, 0); !apperr.IsCode(err, apperr.CodeMissingField) {
		t.Errorf("expected MISSING_FIELD for blank query, got %v", err)
	}
}

func TestContentHashStable(t *testing.T) {
	a := contentHash([]byte("same bytes"))
	b := contentHash([]byte("same bytes"))
	c := contentHash([]byte("different bytes"))

	if a != b {
		t.Error("expected identical hashes for identical content")
	}
	if a == c {
		t.Error("expected different hashes for different content")
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256, got length %d", len(a))
	}
}

func TestPreviewTruncation(t *testing.T) {
	long := strings.Repeat("a", 500)
	got := preview(long)
	if len([]rune(got)) != previewLen+3 {
		t.Errorf("expected %d runes with ellipsis, got %d", previewLen+3, len([]rune(got)))
	}

	if preview("short") != "short" {
		t.Errorf("expected short text unchanged")
	}
}

func TestExtractTextPlain(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     string
	}{
		{"txt", "notes.txt", "plain notes"},
		{"markdown", "README.md", "# heading"},
		{"csv", "prices.csv", "sku,price"},
		{"no extension", "CHANGELOG", "changes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := ExtractText(tt.filename, []byte(tt.data))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if text != tt.data {
				t.Errorf("expected %q, got %q", tt.data, text)
			}
		})
	}
}

func TestExtractTextUnsupported(t *testing.T) {
	_, err := ExtractText("binary.exe", []byte{0x4d, 0x5a})
	if !apperr.IsCode(err, apperr.CodeUnsupportedFile) {
		t.Errorf("expected UNSUPPORTED_FILE_TYPE, got %v", err)
	}
}

func TestDecodeTextUTF8Passthrough(t *testing.T) {
	input := "UTF-8 text with 中文 and émojis"
	if got := decodeText([]byte(input)); got != input {
		t.Errorf("expected passthrough, got %q", got)
	}
}

func TestDecodeTextGB18030(t *testing.T) {
	// "你好" in GBK bytes.
	gbk := []byte{0xc4, 0xe3, 0xba, 0xc3}
	got := decodeText(gbk)
	if got != "你好" {
		t.Errorf("expected GB18030 decode to 你好, got %q", got)
	}
}

func TestDecodeTextLatin1Fallback(t *testing.T) {
	// A trailing 0xe9 is invalid UTF-8; whatever fallback wins, the ASCII
	// prefix must survive and the result must be valid UTF-8.
	got := decodeText([]byte{0x63, 0x61, 0x66, 0xe9})
	if got == "" {
		t.Error("expected non-empty fallback decode")
	}
	if !strings.HasPrefix(got, "caf") {
		t.Errorf("expected ASCII prefix preserved, got %q", got)
	}
}

func TestStripXMLTags(t *testing.T) {
	got := stripXMLTags("<w:p>Hello</w:p><w:p>World</w:p>")
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "World") {
		t.Errorf("expected tag content preserved, got %q", got)
	}
	if strings.Contains(got, "<") {
		t.Errorf("expected tags removed, got %q", got)
	}
}
