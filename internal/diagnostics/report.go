// Package diagnostics builds the -self-test report.
package diagnostics

import (
	"context"
	"time"

	"github.com/alexballas/mcp-jellyfin/internal/config"
	"github.com/alexballas/mcp-jellyfin/internal/jellyfin"
)

const defaultProbeTimeout = 5 * time.Second

type SystemInfoSource interface {
	PublicSystemInfo(ctx context.Context) (jellyfin.SystemInfo, error)
}

type ServerStatus struct {
	Reachable  bool   `json:"reachable"`
	ServerName string `json:"server_name,omitempty"`
	Version    string `json:"version,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

type CastStatus struct {
	Enabled        bool `json:"enabled"`
	DiscoveryWired bool `json:"discovery_wired"`
	CastWired      bool `json:"cast_wired"`
}

type Report struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
	Config   config.Summary `json:"config"`
	Jellyfin ServerStatus   `json:"jellyfin"`
	Cast     CastStatus     `json:"cast"`
	OK       bool           `json:"ok"`
}

type Options struct {
	ServerName    string
	ServerVersion string
	Config        *config.Config
	Jellyfin      SystemInfoSource
	Cast          CastStatus
	ProbeTimeout  time.Duration
}

// Run probes the Jellyfin server and assembles the report. OK is false when
// the server could not be reached.
func Run(ctx context.Context, opts Options) Report {
	var report Report
	report.Server.Name = opts.ServerName
	report.Server.Version = opts.ServerVersion
	if opts.Config != nil {
		report.Config = opts.Config.Summary()
	}
	report.Cast = opts.Cast
	report.Jellyfin = probe(ctx, opts.Jellyfin, opts.ProbeTimeout)
	report.OK = report.Jellyfin.Reachable
	return report
}

func probe(ctx context.Context, source SystemInfoSource, timeout time.Duration) ServerStatus {
	if source == nil {
		return ServerStatus{Error: "jellyfin client is not configured"}
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	info, err := source.PublicSystemInfo(probeCtx)
	status := ServerStatus{LatencyMS: time.Since(started).Milliseconds()}
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Reachable = true
	status.ServerName = info.ServerName
	status.Version = info.Version
	return status
}
