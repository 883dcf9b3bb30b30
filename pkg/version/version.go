// Package version exposes the build version, overridable at link time with
// -ldflags "-X github.com/ltavares/chatline/pkg/version.Version=...".
package version

var Version = "dev"
