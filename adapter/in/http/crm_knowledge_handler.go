package http

import (
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"crm_server/core/domain"
	"crm_server/core/service/knowledge"
	"crm_server/pkg/apperr"
	"crm_server/pkg/response"
)

// maxUploadSize caps knowledge uploads at 20MB.
const maxUploadSize = 20 << 20

type KnowledgeHandler struct {
	knowledgeService *knowledge.Service
}

func NewKnowledgeHandler(knowledgeService *knowledge.Service) *KnowledgeHandler {
	return &KnowledgeHandler{knowledgeService: knowledgeService}
}

func (h *KnowledgeHandler) Register(app fiber.Router) {
	kb := app.Group("/knowledge")

	kb.Post("/documents", h.Upload)
	kb.Get("/documents", h.List)
	kb.Get("/documents/:id", h.Get)
	kb.Delete("/documents/:id", h.Deactivate)
	kb.Post("/search", h.Search)
}

// Upload accepts a multipart document and queues it for ingestion. The
// response carries the document in "pending" status; chunking and
// embedding happen on the worker.
func (h *KnowledgeHandler) Upload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.AppError(c, apperr.MissingField("file"))
	}
	if fileHeader.Size > maxUploadSize {
		return response.AppError(c, apperr.BadRequest("file exceeds the 20MB upload limit"))
	}

	file, err := fileHeader.Open()
	if err != nil {
		return response.AppError(c, apperr.BadRequest("cannot open uploaded file"))
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return response.AppError(c, apperr.BadRequest("cannot read uploaded file"))
	}

	input := &knowledge.UploadInput{
		Title:    c.FormValue("title"),
		Category: c.FormValue("category"),
		Filename: fileHeader.Filename,
		Data:     data,
	}
	if desc := c.FormValue("description"); desc != "" {
		input.Description = &desc
	}

	doc, err := h.knowledgeService.Upload(c.Context(), input)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.Created(c, doc)
}

func (h *KnowledgeHandler) List(c *fiber.Ctx) error {
	page := pageRequest(c)
	category := c.Query("category", "")

	docs, total, err := h.knowledgeService.List(c.Context(), category, page)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OKWithMeta(c, docs, listMeta(page, total))
}

func (h *KnowledgeHandler) Get(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	doc, err := h.knowledgeService.Get(c.Context(), id)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, doc)
}

func (h *KnowledgeHandler) Deactivate(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return response.AppError(c, err)
	}

	if err := h.knowledgeService.Deactivate(c.Context(), id); err != nil {
		return response.AppError(c, err)
	}
	return response.NoContent(c)
}

type searchRequest struct {
	Query    string  `json:"query"`
	Category string  `json:"category,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	MinScore float64 `json:"min_score,omitempty"`
}

func (h *KnowledgeHandler) Search(c *fiber.Ctx) error {
	var req searchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.AppError(c, apperr.BadRequest("invalid request body"))
	}
	if req.Query == "" {
		return response.AppError(c, apperr.MissingField("query"))
	}

	matches, err := h.knowledgeService.Search(c.Context(), req.Query, req.Category, req.Limit, req.MinScore)
	if err != nil {
		return response.AppError(c, err)
	}
	return response.OK(c, matches)
}

// pathID parses the numeric :id path parameter.
func pathID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput("id", "must be a positive integer")
	}
	return id, nil
}

func pageRequest(c *fiber.Ctx) *domain.PageRequest {
	p := response.GetPagination(c, 20, 100)
	return &domain.PageRequest{Page: p.Page, PageSize: p.PageSize}
}

func listMeta(page *domain.PageRequest, total int64) *response.Meta {
	return &response.Meta{
		Total:    int(total),
		Page:     page.Page,
		PageSize: page.Limit(),
		HasMore:  int64(page.Offset()+page.Limit()) < total,
	}
}
