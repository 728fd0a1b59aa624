// Package common holds process-wide helpers shared by the forge binaries:
// logger construction and build metadata.
package common

var (
	// PackageName is used as the metrics namespace and the tracer name.
	PackageName = "safe-forge"

	// Version is overwritten at build time via -ldflags.
	Version = "dev"
)
