// Package registry implements the two forge state machines.
//
// The admin registry is bootstrapped with exactly one admin, the deployer,
// and grows only by action of an existing admin. Admins are never removed.
//
// The template lifecycle tracks one record per template name:
//
//	Registered --approve--> Approved --generate--> (event appended)
//
// Generation is repeatable and appends an immutable GenerationEvent with a
// strictly increasing id starting at 1.
//
// # Check Order
//
// Each operation returns the first failing precondition and changes nothing:
//
//	add-admin          caller admin (1000)
//	register-template  caller admin (1000), name unused (1002)
//	approve-template   template exists (1001), caller admin (1000)
//	generate-contract  template exists (1001), approved (1003)
//
// # Persistence
//
// Every mutation is written through interfaces.StateStore before memory is
// updated, so a failed write leaves both unchanged. A failed event append is
// reported as ContractGenerationFailed (1004).
//
// # Collaborators
//
// An optional archive (interfaces.StorageBackend) receives template code
// before a registration commits; an archive failure aborts the registration.
// Deployment data is archived after commit on a best-effort basis, and
// committed events are published to an optional interfaces.EventSink.
//
// Example:
//
//	reg, err := registry.NewRegistry(ctx, store, registry.Options{Log: log})
//	if err != nil {
//	    return err
//	}
//	if !reg.Initialized() {
//	    err = reg.Initialize(ctx, deployer)
//	}
package registry
