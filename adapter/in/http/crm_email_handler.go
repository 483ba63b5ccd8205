package http

import (
	"github.com/gofiber/fiber/v2"

	"crm_server/core/port/out"
	"crm_server/core/service/email"
	"crm_server/pkg/apperr"
	"crm_server/pkg/response"
)

type EmailHandler struct {
	emailService *email.Service
}

func NewEmailHandler(emailService *email.Service) *EmailHandler {
	return &EmailHandler{emailService: emailService}
}

func (h *EmailHandler) Register(app fiber.Router) {
	emails := app.Group("/emails")

	emails.Post("/inbound", h.Inbound)
	emails.Get("/", h.List)
	emails.Get("/:id", h.Get)
	emails.Get("/:id/body", h.GetBody)
	emails.Post("/:id/classify", h.Classify)
}

// Inbound takes a pushed message into the pipeline. A message id we have
// already seen returns the stored email with 200 instead of 201; push and
// poll feeds can overlap without double-processing.
func (h *EmailHandler) Inbound(c *fiber.Ctx) error {
	var msg out.InboundMessage
	if err := c.BodyParser(&msg); err != nil {
		return response.AppError(c, apperr.BadRequest("invalid request body"))
	}

	stored, created, err := h.emailService.Intake(c.Context(), &msg)
	if err != nil {
		return response.AppError(c, err)
	}
	if created {
		return response.Created(c, stored)
	}
	return response.OK(c, stored)
}

func (h *EmailHandler) List(c *fiber.Ctx) error {
	page := pageRequest(c)

	emails, total, err := h.emailService.List(c.Context(), page)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OKWithMeta(c, emails, listMeta(page, total))
}

func (h *EmailHandler) Get(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	stored, err := h.emailService.Get(c.Context(), id)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, stored)
}

func (h *EmailHandler) GetBody(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	body, err := h.emailService.GetBody(c.Context(), id)
	if err != nil {
		return response.AppError(c, err)
	}
	if body == nil {
		return response.NotFound(c, "email body not found")
	}
	return response.OK(c, body)
}

type classifyRequest struct {
	Force bool `json:"force,omitempty"`
}

// Classify queues a (re-)classification. The analysis itself runs on the
// worker; this endpoint only enqueues.
func (h *EmailHandler) Classify(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	var req classifyRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.AppError(c, apperr.BadRequest("invalid request body"))
		}
	}

	if err := h.emailService.RequestClassify(c.Context(), id, req.Force); err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, fiber.Map{"email_id": id, "queued": true})
}
