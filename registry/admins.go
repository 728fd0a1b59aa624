package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/safe-forge/interfaces"
)

// Initialize inserts the deployer as the sole admin. Only the first call on
// an empty registry succeeds.
func (r *Registry) Initialize(ctx context.Context, deployer interfaces.Principal) (err error) {
	ctx, done := r.observe(ctx, "initialize", principalAttr("forge.deployer", deployer))
	defer func() { done(err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.admins) != 0 {
		return interfaces.ErrAlreadyInitialized
	}

	admin := interfaces.Admin{
		Principal: deployer,
		AddedAt:   r.now().UTC(),
		Seq:       r.seq + 1,
	}
	if err := r.store.InsertAdmin(ctx, admin); err != nil {
		return fmt.Errorf("failed to persist deployer: %w", err)
	}
	r.applyAdmin(admin)

	r.log.Info("Registry initialized", slog.String("deployer", deployer.String()))
	return nil
}

// Initialized reports whether the deployer has been inserted.
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admins) != 0
}

// IsAuthorizedAdmin reports admin membership. It never fails.
func (r *Registry) IsAuthorizedAdmin(principal interfaces.Principal) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[principal]
	return ok
}

// AddAdmin adds principal to the admin set. Re-adding an existing admin
// succeeds without changing state.
func (r *Registry) AddAdmin(ctx context.Context, caller, principal interfaces.Principal) (_ bool, err error) {
	ctx, done := r.observe(ctx, "add-admin",
		principalAttr("forge.caller", caller),
		principalAttr("forge.principal", principal))
	defer func() { done(err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.admins[caller]; !ok {
		return false, interfaces.NewForgeError(interfaces.NotAuthorized, "caller %s is not an admin", caller)
	}

	if _, ok := r.admins[principal]; ok {
		r.log.Debug("Admin already present", slog.String("principal", principal.String()))
		return true, nil
	}

	admin := interfaces.Admin{
		Principal: principal,
		AddedBy:   caller,
		AddedAt:   r.now().UTC(),
		Seq:       r.seq + 1,
	}
	if err := r.store.InsertAdmin(ctx, admin); err != nil {
		return false, fmt.Errorf("failed to persist admin: %w", err)
	}
	r.applyAdmin(admin)

	r.log.Info("Admin added",
		slog.String("principal", principal.String()),
		slog.String("addedBy", caller.String()))
	return true, nil
}

// Admins returns the admin set in insertion order.
func (r *Registry) Admins() []interfaces.Admin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Admin, 0, len(r.adminOrder))
	for _, p := range r.adminOrder {
		out = append(out, r.admins[p])
	}
	return out
}

func (r *Registry) applyAdmin(admin interfaces.Admin) {
	r.admins[admin.Principal] = admin
	r.adminOrder = append(r.adminOrder, admin.Principal)
	r.seq = admin.Seq
}
