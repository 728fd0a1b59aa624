package interfaces

import (
	"context"
	"time"
)

// AdminRegistry is the authorization state machine.
type AdminRegistry interface {
	// Initialize inserts the deployer as the sole admin. It may succeed once.
	Initialize(ctx context.Context, deployer Principal) error

	// IsAuthorizedAdmin is a pure read and never fails.
	IsAuthorizedAdmin(principal Principal) bool

	// AddAdmin fails with NotAuthorized unless caller is an admin.
	AddAdmin(ctx context.Context, caller, principal Principal) (bool, error)

	// Admins lists the admin set in insertion order.
	Admins() []Admin
}

// TemplateLifecycle is the template state machine.
type TemplateLifecycle interface {
	RegisterTemplate(ctx context.Context, caller Principal, name TemplateName, code []byte) (bool, error)
	ApproveTemplate(ctx context.Context, caller Principal, name TemplateName) (bool, error)
	GenerateContract(ctx context.Context, caller Principal, name TemplateName, deploymentData []byte) (*GenerationEvent, error)

	Template(name TemplateName) (*Template, error)
	Templates() []Template
	Event(id uint64) (*GenerationEvent, error)
	Events(after uint64, limit int) []GenerationEvent
}

// Forge is the full surface served over HTTP.
type Forge interface {
	AdminRegistry
	TemplateLifecycle
}

// StateStore persists forge state. Every write is a single atomic statement;
// a failed write must leave the store unchanged.
type StateStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	InsertAdmin(ctx context.Context, admin Admin) error
	InsertTemplate(ctx context.Context, template Template) error
	// ApproveTemplate fails if the template is missing or already approved.
	ApproveTemplate(ctx context.Context, name TemplateName, approver Principal, seq uint64, at time.Time) error
	// AppendEvent fails if the event id is already taken.
	AppendEvent(ctx context.Context, event GenerationEvent) error
	Close() error
}

// EventSink receives generation events after they are committed.
type EventSink interface {
	Publish(ctx context.Context, event GenerationEvent) error
	Name() string
}
