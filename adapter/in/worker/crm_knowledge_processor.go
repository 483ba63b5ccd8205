package worker

import (
	"context"
	"fmt"

	"crm_server/core/port/out"
	"crm_server/core/service/knowledge"
	"crm_server/pkg/logger"
)

// KnowledgeProcessor handles document ingestion jobs. The upload path
// already extracted the text, so the job carries it and the worker goes
// straight to chunking and embedding.
type KnowledgeProcessor struct {
	knowledgeService *knowledge.Service
}

func NewKnowledgeProcessor(knowledgeService *knowledge.Service) *KnowledgeProcessor {
	return &KnowledgeProcessor{knowledgeService: knowledgeService}
}

func (p *KnowledgeProcessor) ProcessIngest(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[out.IngestJob](msg)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}

	if err := p.knowledgeService.Ingest(ctx, payload.DocumentID, payload.Text); err != nil {
		return fmt.Errorf("ingest document %d: %w", payload.DocumentID, err)
	}

	logger.WithFields(map[string]any{
		"document_id": payload.DocumentID,
	}).Info("document ingested")
	return nil
}
