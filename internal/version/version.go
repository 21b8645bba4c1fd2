// Package version carries build metadata injected with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/livewire/internal/version.Version=1.0.0 \
//	    -X github.com/rickgao/livewire/internal/version.Commit=$(git rev-parse --short HEAD) \
//	    -X github.com/rickgao/livewire/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build metadata in a form suitable for JSON status output.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String formats the build metadata for --version output.
func String() string {
	i := Get()
	return fmt.Sprintf("%s (%s) built %s", i.Version, i.Commit, i.BuildTime)
}

// UserAgent is sent on websocket handshakes and upstream REST requests.
func UserAgent() string {
	return "livewire/" + Version
}
