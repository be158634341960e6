// Package buildinfo exposes version information injected at build time:
//
//	go build -ldflags "-X github.com/yndnr/memdev-go/internal/infra/buildinfo.Version=v1.0.0"
//
// When Commit is not injected it is taken from the VCS stamp the Go
// toolchain embeds, if any.
package buildinfo
