// Package diagnostics provides a support bundle generator for the
// authentication gateway: system info, the process's admission and
// session counters, and a redacted view of its configuration.
package diagnostics

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/webgate-io/webgate/internal/authcore"
	"github.com/webgate-io/webgate/internal/config"
)

// Collector gathers diagnostic information from the running process.
type Collector struct {
	manager *authcore.Manager
	config  *config.Config
	started time.Time
}

// NewCollector creates a new diagnostics collector.
func NewCollector(manager *authcore.Manager, cfg *config.Config, started time.Time) *Collector {
	return &Collector{manager: manager, config: cfg, started: started}
}

// Bundle represents a complete diagnostics bundle.
type Bundle struct {
	GeneratedAt time.Time      `json:"generated_at"`
	System      SystemInfo     `json:"system"`
	Config      RedactedConfig `json:"config"`
	Health      HealthSummary  `json:"health"`
	Auth        AuthStats      `json:"auth"`
	Runtime     RuntimeInfo    `json:"runtime"`
}

// SystemInfo contains basic system information.
type SystemInfo struct {
	GoVersion     string  `json:"go_version"`
	GOOS          string  `json:"goos"`
	GOARCH        string  `json:"goarch"`
	NumCPU        int     `json:"num_cpu"`
	Hostname      string  `json:"hostname"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// RedactedConfig mirrors config.Config with no secret material — the
// authentication core never holds a global secret, but this keeps the
// field present for parity with what operators expect to see redacted.
type RedactedConfig struct {
	ProcessTimeout  string `json:"process_timeout"`
	ResponseTimeout string `json:"response_timeout"`
	ServiceIdle     string `json:"service_idle"`
	ProcessIdle     string `json:"process_idle"`
	SSHHost         string `json:"ssh_host"`
	SSHPort         int    `json:"ssh_port"`
	LoginLoopback   bool   `json:"login_loopback"`
	MaxStartups     string `json:"max_startups"`
}

// HealthSummary contains the overall health status.
type HealthSummary struct {
	Overall string `json:"overall"`
}

// AuthStats contains live authentication-core counters.
type AuthStats struct {
	ActiveSessions   int  `json:"active_sessions"`
	PendingDialogues int  `json:"pending_dialogues"`
	GSSAPINotAvail   bool `json:"gssapi_not_avail"`
}

// RuntimeInfo contains Go runtime information.
type RuntimeInfo struct {
	NumGoroutine int         `json:"num_goroutine"`
	Memory       MemoryStats `json:"memory"`
}

// MemoryStats contains memory statistics.
type MemoryStats struct {
	AllocMB      float64 `json:"alloc_mb"`
	TotalAllocMB float64 `json:"total_alloc_mb"`
	SysMB        float64 `json:"sys_mb"`
	NumGC        uint32  `json:"num_gc"`
}

// Collect gathers all diagnostic information into a Bundle.
func (c *Collector) Collect(ctx context.Context) (*Bundle, error) {
	bundle := &Bundle{
		GeneratedAt: time.Now().UTC(),
		System:      c.collectSystemInfo(),
		Config:      c.collectRedactedConfig(),
		Health:      HealthSummary{Overall: "healthy"},
		Auth:        c.collectAuthStats(),
		Runtime:     c.collectRuntimeInfo(),
	}
	return bundle, nil
}

// WriteBundle writes the diagnostics bundle as a tar.gz archive to w.
func (c *Collector) WriteBundle(ctx context.Context, w io.Writer) error {
	bundle, err := c.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collecting diagnostics: %w", err)
	}

	gzw := gzip.NewWriter(w)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	bundleJSON, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling bundle: %w", err)
	}
	if err := addFileToTar(tw, "diagnostics/bundle.json", bundleJSON); err != nil {
		return fmt.Errorf("adding bundle.json to archive: %w", err)
	}

	sections := map[string]any{
		"diagnostics/system.json":  bundle.System,
		"diagnostics/config.json":  bundle.Config,
		"diagnostics/health.json":  bundle.Health,
		"diagnostics/auth.json":    bundle.Auth,
		"diagnostics/runtime.json": bundle.Runtime,
	}
	for name, data := range sections {
		jsonData, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", name, err)
		}
		if err := addFileToTar(tw, name, jsonData); err != nil {
			return fmt.Errorf("adding %s to archive: %w", name, err)
		}
	}

	return nil
}

func addFileToTar(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name:    name,
		Size:    int64(len(data)),
		Mode:    0644,
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

func (c *Collector) collectSystemInfo() SystemInfo {
	hostname, _ := os.Hostname()
	uptime := time.Since(c.started)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		GOOS:          runtime.GOOS,
		GOARCH:        runtime.GOARCH,
		NumCPU:        runtime.NumCPU(),
		Hostname:      hostname,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
	}
}

func (c *Collector) collectRedactedConfig() RedactedConfig {
	return RedactedConfig{
		ProcessTimeout:  c.config.ProcessTimeout.String(),
		ResponseTimeout: c.config.ResponseTimeout.String(),
		ServiceIdle:     c.config.ServiceIdle.String(),
		ProcessIdle:     c.config.ProcessIdle.String(),
		SSHHost:         c.config.SSHHost,
		SSHPort:         c.config.SSHPort,
		LoginLoopback:   c.config.LoginLoopback,
		MaxStartups:     fmt.Sprintf("%d:%d:%d", c.config.MaxStartups.Begin, c.config.MaxStartups.Rate, c.config.MaxStartups.Max),
	}
}

func (c *Collector) collectAuthStats() AuthStats {
	return AuthStats{
		ActiveSessions:   c.manager.SessionCount(),
		PendingDialogues: c.manager.PendingCount(),
		GSSAPINotAvail:   c.manager.GSSAPINotAvail(),
	}
}

func (c *Collector) collectRuntimeInfo() RuntimeInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return RuntimeInfo{
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			AllocMB:      float64(memStats.Alloc) / 1024 / 1024,
			TotalAllocMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			SysMB:        float64(memStats.Sys) / 1024 / 1024,
			NumGC:        memStats.NumGC,
		},
	}
}
