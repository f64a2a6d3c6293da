// Package version carries the build version, set with
// -ldflags "-X mover/internal/version.Version=v1.2.3".
package version

// Version of the mover binary.
var Version = "dev"
