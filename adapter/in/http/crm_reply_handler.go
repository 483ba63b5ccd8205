package http

import (
	"github.com/gofiber/fiber/v2"

	"crm_server/core/service/reply"
	"crm_server/pkg/apperr"
	"crm_server/pkg/response"
)

type ReplyHandler struct {
	replyService *reply.Service
}

func NewReplyHandler(replyService *reply.Service) *ReplyHandler {
	return &ReplyHandler{replyService: replyService}
}

func (h *ReplyHandler) Register(app fiber.Router) {
	replies := app.Group("/replies")

	replies.Post("/generate", h.Generate)
}

type generateRequest struct {
	EmailID      int64  `json:"email_id"`
	UseKnowledge bool   `json:"use_knowledge,omitempty"`
	TemplateID   *int64 `json:"template_id,omitempty"`
	Tone         string `json:"tone,omitempty"`
}

// Generate drafts a reply synchronously for operator-initiated drafting.
// The rule-driven pipeline path goes through the queue instead.
func (h *ReplyHandler) Generate(c *fiber.Ctx) error {
	var req generateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.AppError(c, apperr.BadRequest("invalid request body"))
	}
	if req.EmailID <= 0 {
		return response.AppError(c, apperr.MissingField("email_id"))
	}

	draft, err := h.replyService.Generate(c.Context(), &reply.DraftRequest{
		EmailID:      req.EmailID,
		UseKnowledge: req.UseKnowledge,
		TemplateID:   req.TemplateID,
		Tone:         req.Tone,
	})
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, draft)
}
