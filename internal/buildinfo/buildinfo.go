// Package buildinfo holds values stamped at link time, e.g.
//
//	go build -ldflags "-X github.com/alexballas/mcp-jellyfin/internal/buildinfo.Version=v1.2.3 -X github.com/alexballas/mcp-jellyfin/internal/buildinfo.Commit=abc123"
package buildinfo

var (
	Version = "0.1.0-dev"
	Commit  = ""
)

// String is Version with the short commit appended when one was stamped.
func String() string {
	if Commit == "" {
		return Version
	}
	commit := Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return Version + " (" + commit + ")"
}
