package worker

import (
	"context"

	"crm_server/pkg/logger"
)

// Handler routes pool messages to the stage processors.
type Handler struct {
	triageProcessor    *TriageProcessor
	knowledgeProcessor *KnowledgeProcessor
}

func NewHandler(triageProcessor *TriageProcessor, knowledgeProcessor *KnowledgeProcessor) *Handler {
	return &Handler{
		triageProcessor:    triageProcessor,
		knowledgeProcessor: knowledgeProcessor,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobEmailClassify:
		return h.triageProcessor.ProcessClassify(ctx, msg)
	case JobReplyDraft:
		return h.triageProcessor.ProcessDraft(ctx, msg)
	case JobMailSend:
		return h.triageProcessor.ProcessSend(ctx, msg)
	case JobKnowledgeIngest:
		return h.knowledgeProcessor.ProcessIngest(ctx, msg)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}
