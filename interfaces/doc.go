// Package interfaces defines the core types and contracts of the forge,
// separating interface definitions from implementations.
//
// # Domain Types
//
//   - Principal: 20-byte account address identifying a caller
//   - TemplateName: bounded ASCII template identifier
//   - Template, Admin, GenerationEvent: registry records
//   - ContentID: 32-byte SHA-256 hash for content addressing
//
// # Forge Interfaces
//
// AdminRegistry: the authorization state machine. Bootstrapped with the
// deployer, grows only through existing admins, never shrinks.
//
// TemplateLifecycle: Registered -> Approved, plus repeatable generation of
// events from approved templates.
//
// # Collaborators
//
// StateStore: durable persistence of admins, templates and events.
//
// EventSink: downstream publishing of committed generation events.
//
// StorageBackend: content-addressed archive of template code and deployment
// data across file, S3, IPFS, GitHub and Vault backends.
//
// # Errors
//
// Domain failures are *ForgeError values carrying one of five kinds. Each
// kind has a stable wire code:
//
//	NotAuthorized            1000
//	TemplateNotFound         1001
//	TemplateAlreadyExists    1002
//	InvalidTemplate          1003
//	ContractGenerationFailed 1004
//
// Use errors.Is against ErrNotAuthorized and friends to branch on kind.
package interfaces
