package server

import (
	"filigree/internal/domain"
	"filigree/internal/engine"
	"filigree/internal/templates"
)

// Request payloads

type CreateIssueRequest struct {
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type,omitempty" example:"bug"`
	Title       string         `json:"title" minLength:"1"`
	Description string         `json:"description,omitempty"`
	Priority    *int           `json:"priority,omitempty" minimum:"0" maximum:"4"`
	Assignee    string         `json:"assignee,omitempty"`
	ParentID    string         `json:"parent_id,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Labels      []string       `json:"labels,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"`
}

type UpdateIssueRequest struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Priority    *int           `json:"priority,omitempty" minimum:"0" maximum:"4"`
	Assignee    *string        `json:"assignee,omitempty"`
	ParentID    *string        `json:"parent_id,omitempty"`
	Status      string         `json:"status,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Override    bool           `json:"override,omitempty"`
}

type CloseIssueRequest struct {
	Status string         `json:"status,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

type ClaimRequest struct {
	// Assignee defaults to the authenticated actor.
	Assignee string `json:"assignee,omitempty"`
}

type ClaimNextRequest struct {
	Assignee string   `json:"assignee,omitempty"`
	Types    []string `json:"types,omitempty"`
	Label    string   `json:"label,omitempty"`
}

type AddDependencyRequest struct {
	DependsOn string `json:"depends_on" minLength:"1"`
}

type ValidateTransitionRequest struct {
	To     string         `json:"to" minLength:"1"`
	Fields map[string]any `json:"fields,omitempty"`
}

type BatchCloseRequest struct {
	IDs    []string       `json:"ids" minItems:"1"`
	Status string         `json:"status,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

type BatchUpdateRequest struct {
	IDs    []string           `json:"ids" minItems:"1"`
	Update UpdateIssueRequest `json:"update"`
}

// Response payloads

type IssueResult struct {
	Issue    domain.Issue `json:"issue"`
	Warnings []string     `json:"warnings,omitempty"`
}

type ClaimNextResponse struct {
	Claimed bool          `json:"claimed"`
	Issue   *domain.Issue `json:"issue,omitempty"`
}

type DependencyResponse struct {
	IssueID   string `json:"issue_id"`
	DependsOn string `json:"depends_on"`
	Changed   bool   `json:"changed"`
}

type BatchResponse struct {
	Results []engine.BatchResult `json:"results"`
	Failed  int                  `json:"failed"`
}

type TypeSummary struct {
	Type         string `json:"type"`
	DisplayName  string `json:"display_name,omitempty"`
	Pack         string `json:"pack,omitempty"`
	InitialState string `json:"initial_state"`
	States       int    `json:"states"`
}

func typeSummary(tpl templates.TypeTemplate) TypeSummary {
	return TypeSummary{
		Type:         tpl.Type,
		DisplayName:  tpl.DisplayName,
		Pack:         tpl.Pack,
		InitialState: tpl.InitialState,
		States:       len(tpl.States),
	}
}

func issueResult(res engine.UpdateResult) IssueResult {
	return IssueResult{Issue: res.Issue, Warnings: res.Warnings}
}

func (r UpdateIssueRequest) options(id, actor string) engine.IssueUpdateOptions {
	return engine.IssueUpdateOptions{
		ID:          id,
		Title:       r.Title,
		Description: r.Description,
		Priority:    r.Priority,
		Assignee:    r.Assignee,
		ParentID:    r.ParentID,
		Status:      r.Status,
		Fields:      r.Fields,
		Override:    r.Override,
		Actor:       actor,
	}
}
