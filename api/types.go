package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/safe-forge/interfaces"
)

// Route paths served by the forge HTTP server.
const (
	AdminsPath    = "/api/admins"
	TemplatesPath = "/api/templates"
	EventsPath    = "/api/events"
)

type AddAdminRequest struct {
	Principal interfaces.Principal `json:"principal"`
}

type RegisterTemplateRequest struct {
	Name interfaces.TemplateName `json:"name"`
	Code hexutil.Bytes           `json:"code"`
}

type GenerateContractRequest struct {
	DeploymentData hexutil.Bytes `json:"deployment_data"`
}

// ResultResponse is returned by add-admin, register-template and
// approve-template.
type ResultResponse struct {
	Result bool `json:"result"`
}

type IsAdminResponse struct {
	Principal interfaces.Principal `json:"principal"`
	Admin     bool                 `json:"admin"`
}

type AdminsResponse struct {
	Admins []interfaces.Admin `json:"admins"`
}

// TemplateSummary is a template without its code payload.
type TemplateSummary struct {
	Name         interfaces.TemplateName   `json:"name"`
	CodeID       interfaces.ContentID      `json:"code_id"`
	CodeSize     int                       `json:"code_size"`
	Status       interfaces.TemplateStatus `json:"status"`
	Registrant   interfaces.Principal      `json:"registrant"`
	Approver     *interfaces.Principal     `json:"approver,omitempty"`
	RegisteredAt time.Time                 `json:"registered_at"`
	ApprovedAt   *time.Time                `json:"approved_at,omitempty"`
}

func NewTemplateSummary(t interfaces.Template) TemplateSummary {
	s := TemplateSummary{
		Name:         t.Name,
		CodeID:       t.CodeID,
		CodeSize:     len(t.Code),
		Status:       t.Status,
		Registrant:   t.Registrant,
		RegisteredAt: t.RegisteredAt,
	}
	if t.Approved() {
		approver, at := t.Approver, t.ApprovedAt
		s.Approver = &approver
		s.ApprovedAt = &at
	}
	return s
}

type TemplatesResponse struct {
	Templates []TemplateSummary `json:"templates"`
}

// EventsResponse is one page of the event log. Next is the cursor for the
// following page and is zero when the page is the last one.
type EventsResponse struct {
	Events []interfaces.GenerationEvent `json:"events"`
	Next   uint64                       `json:"next,omitempty"`
}

// ErrorResponse carries the wire code for domain errors. Code is omitted
// for authentication and input errors.
type ErrorResponse struct {
	Code  int    `json:"code,omitempty"`
	Error string `json:"error"`
}
