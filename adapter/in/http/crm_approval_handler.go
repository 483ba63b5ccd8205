package http

import (
	"github.com/gofiber/fiber/v2"

	"crm_server/core/domain"
	"crm_server/core/service/approval"
	"crm_server/pkg/apperr"
	"crm_server/pkg/response"
)

type ApprovalHandler struct {
	approvalService *approval.Service
}

func NewApprovalHandler(approvalService *approval.Service) *ApprovalHandler {
	return &ApprovalHandler{approvalService: approvalService}
}

func (h *ApprovalHandler) Register(app fiber.Router) {
	approvals := app.Group("/approvals")

	approvals.Get("/", h.List)
	approvals.Get("/:id", h.Get)
	approvals.Post("/:id/approve", h.Approve)
	approvals.Post("/:id/reject", h.Reject)
	approvals.Post("/:id/revise", h.Revise)
	approvals.Post("/:id/resend", h.Resend)
}

var validStatuses = map[domain.ApprovalStatus]bool{
	domain.ApprovalPending:    true,
	domain.ApprovalApproved:   true,
	domain.ApprovalSending:    true,
	domain.ApprovalSent:       true,
	domain.ApprovalSendFailed: true,
	domain.ApprovalRejected:   true,
	domain.ApprovalExpired:    true,
}

func (h *ApprovalHandler) List(c *fiber.Ctx) error {
	status := domain.ApprovalStatus(c.Query("status", string(domain.ApprovalPending)))
	if !validStatuses[status] {
		return response.AppError(c, apperr.InvalidInput("status", "unknown approval status"))
	}
	page := pageRequest(c)

	tasks, total, err := h.approvalService.ListByStatus(c.Context(), status, page)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OKWithMeta(c, tasks, listMeta(page, total))
}

func (h *ApprovalHandler) Get(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	task, err := h.approvalService.Get(c.Context(), id)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, task)
}

type decisionRequest struct {
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason,omitempty"`
}

// Approve records an approval decision. A 409 means another reviewer or
// the timeout sweep got there first; the response carries the status that
// won.
func (h *ApprovalHandler) Approve(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	var req decisionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.AppError(c, apperr.BadRequest("invalid request body"))
	}

	task, err := h.approvalService.Approve(c.Context(), id, req.Reviewer)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, task)
}

func (h *ApprovalHandler) Reject(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	var req decisionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.AppError(c, apperr.BadRequest("invalid request body"))
	}

	task, err := h.approvalService.Reject(c.Context(), id, req.Reviewer, req.Reason)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, task)
}

type reviseRequest struct {
	Editor   string `json:"editor"`
	Subject  string `json:"subject,omitempty"`
	HTMLBody string `json:"html_body"`
}

func (h *ApprovalHandler) Revise(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	var req reviseRequest
	if err := c.BodyParser(&req); err != nil {
		return response.AppError(c, apperr.BadRequest("invalid request body"))
	}

	task, err := h.approvalService.Revise(c.Context(), id, req.Editor, req.Subject, req.HTMLBody)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, task)
}

// Resend re-queues delivery for a task stuck in send_failed.
func (h *ApprovalHandler) Resend(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	if err := h.approvalService.Resend(c.Context(), id); err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, fiber.Map{"task_id": id, "queued": true})
}
