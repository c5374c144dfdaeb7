// Package handler implements HTTP handlers for the leads module.
package handler

import (
	"net/http"

	"github.com/omnireach/core/internal/leadrules"
	"github.com/omnireach/core/internal/leads/repository"
	"github.com/omnireach/core/internal/leads/service"
	"github.com/omnireach/core/internal/leads/transport"
	"github.com/omnireach/core/platform/httpkit"
	"github.com/omnireach/core/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest = "invalid request"
	msgInvalidID      = "invalid lead id"
)

// Handler handles HTTP requests for leads and lead rules.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new leads handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the leads routes under the given group.
func (h *Handler) RegisterRoutes(leads *gin.RouterGroup, rules *gin.RouterGroup) {
	leads.GET("", h.List)
	leads.POST("/:id/signals", h.RecordSignals)

	rules.GET("", h.GetRules)
	rules.PUT("", h.PutRules)
}

// List handles GET /v1/leads.
func (h *Handler) List(c *gin.Context) {
	var req transport.ListLeadsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	leads, total, err := h.svc.List(c.Request.Context(), identity.OrganizationID(), service.ListFilter{
		Stage:  req.Stage,
		Source: req.Source,
		Tag:    req.Tag,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.ListLeadsResponse{Leads: make([]transport.LeadResponse, len(leads)), Total: total}
	for i, lead := range leads {
		resp.Leads[i] = toLeadResponse(lead)
	}
	httpkit.OK(c, resp)
}

// RecordSignals handles POST /v1/leads/:id/signals.
func (h *Handler) RecordSignals(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	var req transport.SignalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	lead, matched, err := h.svc.RecordSignals(c.Request.Context(), identity.OrganizationID(), id, req.Signals, req.Text)
	if httpkit.HandleError(c, err) {
		return
	}

	matchedIDs := make([]string, len(matched))
	for i, m := range matched {
		matchedIDs[i] = m.RuleID
	}

	httpkit.OK(c, transport.SignalsResponse{
		Lead:         toLeadResponse(*lead),
		MatchedRules: matchedIDs,
	})
}

// GetRules handles GET /v1/lead-rules.
func (h *Handler) GetRules(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	rules, err := h.svc.GetRules(c.Request.Context(), identity.OrganizationID())
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.RulesResponse{Rules: make([]transport.RuleDTO, len(rules))}
	for i, rule := range rules {
		resp.Rules[i] = toRuleDTO(rule)
	}
	httpkit.OK(c, resp)
}

// PutRules handles PUT /v1/lead-rules.
func (h *Handler) PutRules(c *gin.Context) {
	var req transport.PutRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	rules := make([]repository.Rule, len(req.Rules))
	for i, dto := range req.Rules {
		rules[i] = fromRuleDTO(dto)
	}

	if err := h.svc.PutRules(c.Request.Context(), identity.OrganizationID(), rules); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"updated": len(rules)})
}

func toLeadResponse(lead repository.Lead) transport.LeadResponse {
	return transport.LeadResponse{
		ID:             lead.ID,
		ContactID:      lead.ContactID,
		Stage:          lead.Stage,
		Tags:           lead.Tags,
		Score:          lead.Score,
		Source:         lead.Source,
		Metadata:       lead.Metadata,
		LastActivityAt: lead.LastActivityAt,
		ConvertedAt:    lead.ConvertedAt,
		CreatedAt:      lead.CreatedAt,
		UpdatedAt:      lead.UpdatedAt,
	}
}

func toRuleDTO(rule repository.Rule) transport.RuleDTO {
	return transport.RuleDTO{
		ID:          rule.ID,
		Enabled:     rule.Enabled,
		Priority:    rule.Priority,
		StopOnMatch: rule.StopOnMatch,
		Conditions:  transport.RuleConditionsDTO(rule.Conditions),
		Actions:     transport.RuleActionsDTO(rule.Actions),
	}
}

func fromRuleDTO(dto transport.RuleDTO) repository.Rule {
	return repository.Rule{
		ID:          dto.ID,
		Enabled:     dto.Enabled,
		Priority:    dto.Priority,
		StopOnMatch: dto.StopOnMatch,
		Conditions:  leadrules.Conditions(dto.Conditions),
		Actions:     leadrules.Actions(dto.Actions),
	}
}
