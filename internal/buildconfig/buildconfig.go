// Package buildconfig exposes release metadata stamped at link time:
//
//	go build -ldflags "-X <module>/internal/buildconfig.version=v0.3.0 \
//	                   -X <module>/internal/buildconfig.commit=$(git rev-parse --short HEAD)"
package buildconfig

var (
	version = "dev"
	commit  = "unknown"
)

// Version is the stamped release tag; "dev" for unstamped local builds.
func Version() string {
	return version
}

// Commit is the stamped git revision.
func Commit() string {
	return commit
}
