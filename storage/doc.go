// Package storage provides content-addressed archive backends for template
// code and deployment data.
//
// Content is identified by the SHA-256 hash of its bytes and stored in a
// namespace per content type:
//
//	<root>/template-code/<content id>
//	<root>/deployment-data/<content id>
//
// Backends are created from location URIs of the form
// [scheme]://[auth@]host[:port][/path][?params]:
//
//   - file:///var/lib/forge/archive
//   - s3://bucket-name/prefix?region=us-west-2
//   - ipfs://127.0.0.1:5001/safe-forge
//   - github://owner/repo/archive?ref=main (read-only)
//   - vault://vault.example.com:8200/secret/safe-forge
//
// Several locations can be combined for redundancy:
//
//	factory := storage.NewStorageBackendFactory(logger)
//	archive, err := factory.CreateMultiBackend([]string{
//	    "file:///var/lib/forge/archive",
//	    "s3://forge-archive/prod?region=eu-west-1",
//	})
//
// Writes fan out to every available backend and succeed if any backend
// stored the content. Reads return the first copy whose hash matches.
package storage
