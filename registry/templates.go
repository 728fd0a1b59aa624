package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/safe-forge/interfaces"
	"github.com/ruteri/safe-forge/metrics"
	"go.opentelemetry.io/otel/attribute"
)

// RegisterTemplate records a new template in the Registered state.
// Checks: caller is an admin, then the name is unused.
func (r *Registry) RegisterTemplate(ctx context.Context, caller interfaces.Principal, name interfaces.TemplateName, code []byte) (_ bool, err error) {
	ctx, done := r.observe(ctx, "register-template",
		principalAttr("forge.caller", caller),
		attribute.String("forge.template", name.String()),
		attribute.Int("forge.code_size", len(code)))
	defer func() { done(err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.admins[caller]; !ok {
		return false, interfaces.NewForgeError(interfaces.NotAuthorized, "caller %s is not an admin", caller)
	}
	if err := name.Validate(); err != nil {
		return false, err
	}
	if _, exists := r.templates[name]; exists {
		return false, interfaces.NewForgeError(interfaces.TemplateAlreadyExists, "template %q", name)
	}

	codeID := interfaces.ComputeID(code)
	if r.archive != nil {
		archiveCtx, cancel := context.WithTimeout(ctx, r.archiveTimeout)
		archivedID, err := r.archive.Store(archiveCtx, code, interfaces.TemplateCodeType)
		cancel()
		if err != nil {
			metrics.RecordArchiveFailure(interfaces.TemplateCodeType)
			return false, fmt.Errorf("failed to archive template code: %w", err)
		}
		if archivedID != codeID {
			return false, fmt.Errorf("archive returned content id %s, expected %s", archivedID, codeID)
		}
	}

	template := interfaces.Template{
		Name:         name,
		Code:         append([]byte(nil), code...),
		CodeID:       codeID,
		Status:       interfaces.StatusRegistered,
		Registrant:   caller,
		RegisteredAt: r.now().UTC(),
		Seq:          r.seq + 1,
	}
	if err := r.store.InsertTemplate(ctx, template); err != nil {
		return false, fmt.Errorf("failed to persist template: %w", err)
	}

	r.templates[name] = &template
	r.templateOrder = append(r.templateOrder, name)
	r.seq = template.Seq

	r.log.Info("Template registered",
		slog.String("name", name.String()),
		slog.String("registrant", caller.String()),
		slog.String("codeID", codeID.Short()),
		slog.Int("size", len(code)))
	return true, nil
}

// ApproveTemplate moves a template to Approved. Checks: the template
// exists, then caller is an admin. Approving twice is a no-op success.
func (r *Registry) ApproveTemplate(ctx context.Context, caller interfaces.Principal, name interfaces.TemplateName) (_ bool, err error) {
	ctx, done := r.observe(ctx, "approve-template",
		principalAttr("forge.caller", caller),
		attribute.String("forge.template", name.String()))
	defer func() { done(err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	template, ok := r.templates[name]
	if !ok {
		return false, interfaces.NewForgeError(interfaces.TemplateNotFound, "template %q", name)
	}
	if _, ok := r.admins[caller]; !ok {
		return false, interfaces.NewForgeError(interfaces.NotAuthorized, "caller %s is not an admin", caller)
	}
	if template.Approved() {
		r.log.Debug("Template already approved", slog.String("name", name.String()))
		return true, nil
	}

	seq := r.seq + 1
	at := r.now().UTC()
	if err := r.store.ApproveTemplate(ctx, name, caller, seq, at); err != nil {
		return false, fmt.Errorf("failed to persist approval: %w", err)
	}

	template.Status = interfaces.StatusApproved
	template.Approver = caller
	template.ApprovedAt = at
	template.ApprovedSeq = seq
	r.seq = seq

	r.log.Info("Template approved",
		slog.String("name", name.String()),
		slog.String("approver", caller.String()))
	return true, nil
}

// GenerateContract appends a generation event for an approved template.
// Checks: the template exists, then it is approved. Any caller may generate.
func (r *Registry) GenerateContract(ctx context.Context, caller interfaces.Principal, name interfaces.TemplateName, deploymentData []byte) (_ *interfaces.GenerationEvent, err error) {
	ctx, done := r.observe(ctx, "generate-contract",
		principalAttr("forge.caller", caller),
		attribute.String("forge.template", name.String()),
		attribute.Int("forge.data_size", len(deploymentData)))
	defer func() { done(err) }()

	event, err := r.appendEvent(ctx, caller, name, deploymentData)
	if err != nil {
		return nil, err
	}

	r.log.Info("Contract generated",
		slog.Uint64("eventID", event.EventID),
		slog.String("template", name.String()),
		slog.String("caller", caller.String()))

	r.afterGenerate(ctx, event)

	out := event.Clone()
	return &out, nil
}

func (r *Registry) appendEvent(ctx context.Context, caller interfaces.Principal, name interfaces.TemplateName, deploymentData []byte) (interfaces.GenerationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	template, ok := r.templates[name]
	if !ok {
		return interfaces.GenerationEvent{}, interfaces.NewForgeError(interfaces.TemplateNotFound, "template %q", name)
	}
	if !template.Approved() {
		return interfaces.GenerationEvent{}, interfaces.NewForgeError(interfaces.InvalidTemplate, "template %q is not approved", name)
	}

	id := r.nextEventID
	if n := len(r.events); n > 0 && r.events[n-1].EventID >= id {
		return interfaces.GenerationEvent{}, interfaces.NewForgeError(interfaces.ContractGenerationFailed, "event id %d already allocated", id)
	}

	event := interfaces.GenerationEvent{
		EventID:        id,
		TemplateName:   name,
		DeploymentData: append([]byte(nil), deploymentData...),
		Caller:         caller,
		CodeID:         template.CodeID,
		CreatedAt:      r.now().UTC(),
	}
	digest, err := event.ComputeDigest()
	if err != nil {
		return interfaces.GenerationEvent{}, interfaces.WrapForgeError(interfaces.ContractGenerationFailed, err, "event digest")
	}
	event.Digest = digest

	if err := r.store.AppendEvent(ctx, event); err != nil {
		return interfaces.GenerationEvent{}, interfaces.WrapForgeError(interfaces.ContractGenerationFailed, err, "append event %d", id)
	}

	r.events = append(r.events, event)
	r.nextEventID = id + 1

	return event.Clone(), nil
}

// afterGenerate runs outside the lock. Failures are logged only: the event
// log is authoritative.
func (r *Registry) afterGenerate(ctx context.Context, event interfaces.GenerationEvent) {
	if r.archive != nil && len(event.DeploymentData) > 0 {
		archiveCtx, cancel := context.WithTimeout(ctx, r.archiveTimeout)
		_, err := r.archive.Store(archiveCtx, []byte(event.DeploymentData), interfaces.DeploymentDataType)
		cancel()
		if err != nil {
			metrics.RecordArchiveFailure(interfaces.DeploymentDataType)
			r.log.Warn("Failed to archive deployment data",
				slog.Uint64("eventID", event.EventID),
				"err", err)
		}
	}

	if r.sink != nil {
		if err := r.sink.Publish(ctx, event); err != nil {
			metrics.RecordSinkFailure(r.sink.Name())
			r.log.Warn("Failed to publish generation event",
				slog.Uint64("eventID", event.EventID),
				slog.String("sink", r.sink.Name()),
				"err", err)
		}
	}
}

// Template returns a copy of the named template.
func (r *Registry) Template(name interfaces.TemplateName) (*interfaces.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	template, ok := r.templates[name]
	if !ok {
		return nil, interfaces.NewForgeError(interfaces.TemplateNotFound, "template %q", name)
	}
	out := template.Clone()
	return &out, nil
}

// Templates returns all templates in registration order.
func (r *Registry) Templates() []interfaces.Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Template, 0, len(r.templateOrder))
	for _, name := range r.templateOrder {
		out = append(out, r.templates[name].Clone())
	}
	return out
}
