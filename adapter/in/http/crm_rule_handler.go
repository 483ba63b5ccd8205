package http

import (
	"github.com/gofiber/fiber/v2"

	"crm_server/core/domain"
	"crm_server/pkg/apperr"
	"crm_server/pkg/response"
)

// RuleHandler manages auto-reply rules. Rules are operator-maintained
// configuration rows, so the handler talks to the repository directly.
type RuleHandler struct {
	rules domain.AutoReplyRuleRepository
}

func NewRuleHandler(rules domain.AutoReplyRuleRepository) *RuleHandler {
	return &RuleHandler{rules: rules}
}

func (h *RuleHandler) Register(app fiber.Router) {
	rules := app.Group("/reply-rules")

	rules.Get("/", h.List)
	rules.Get("/:id", h.Get)
	rules.Post("/", h.Create)
	rules.Put("/:id", h.Update)
	rules.Delete("/:id", h.Delete)
}

var validCategories = map[domain.RuleCategory]bool{
	domain.CategoryInquiry:     true,
	domain.CategoryQuotation:   true,
	domain.CategorySample:      true,
	domain.CategoryNegotiation: true,
	domain.CategoryOrder:       true,
	domain.CategoryAfterSales:  true,
	domain.CategorySpam:        true,
}

func validateRule(rule *domain.AutoReplyRule) error {
	if rule.Name == "" {
		return apperr.MissingField("name")
	}
	if !validCategories[rule.EmailCategory] {
		return apperr.InvalidInput("email_category", "unknown category")
	}
	if rule.ApprovalChannel == "" {
		rule.ApprovalChannel = domain.ChannelChat
	}
	if rule.ApprovalChannel != domain.ChannelChat && rule.ApprovalChannel != domain.ChannelDirect {
		return apperr.InvalidInput("approval_channel", "must be chat or direct")
	}
	if rule.ApprovalChannel == domain.ChannelDirect && len(rule.Reviewers) == 0 {
		return apperr.InvalidInput("reviewers", "direct channel needs at least one reviewer")
	}
	if rule.TimeoutHours < 0 {
		return apperr.InvalidInput("timeout_hours", "must not be negative")
	}
	return nil
}

func (h *RuleHandler) List(c *fiber.Ctx) error {
	rules, err := h.rules.List(c.Context())
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, rules)
}

func (h *RuleHandler) Get(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	rule, err := h.rules.GetByID(c.Context(), id)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, rule)
}

func (h *RuleHandler) Create(c *fiber.Ctx) error {
	var rule domain.AutoReplyRule
	if err := c.BodyParser(&rule); err != nil {
		return response.AppError(c, apperr.BadRequest("invalid request body"))
	}
	if err := validateRule(&rule); err != nil {
		return response.AppError(c, err)
	}

	if err := h.rules.Create(c.Context(), &rule); err != nil {
		return response.AppError(c, err)
	}
	return response.Created(c, rule)
}

func (h *RuleHandler) Update(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	var rule domain.AutoReplyRule
	if err := c.BodyParser(&rule); err != nil {
		return response.AppError(c, apperr.BadRequest("invalid request body"))
	}
	rule.ID = id
	if err := validateRule(&rule); err != nil {
		return response.AppError(c, err)
	}

	if err := h.rules.Update(c.Context(), &rule); err != nil {
		return response.AppError(c, err)
	}

	updated, err := h.rules.GetByID(c.Context(), id)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, updated)
}

func (h *RuleHandler) Delete(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	if err := h.rules.Delete(c.Context(), id); err != nil {
		return response.AppError(c, err)
	}
	return response.NoContent(c)
}
