package reliability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/smehta/brokersync/internal/database"
)

// HealthStatus is the snapshot returned by the health endpoint.
type HealthStatus struct {
	Status        string            `json:"status"` // "ok" or "degraded"
	Databases     map[string]string `json:"databases"`
	MemoryUsedPct float64           `json:"memory_used_pct"`
	DiskUsedPct   float64           `json:"disk_used_pct"`
	CheckedAt     time.Time         `json:"checked_at"`
}

// HealthChecker verifies database integrity and reports host resource usage.
type HealthChecker struct {
	databases []*database.DB
	dataDir   string
	log       zerolog.Logger
}

// NewHealthChecker creates a health checker over the service's databases.
func NewHealthChecker(databases []*database.DB, dataDir string, log zerolog.Logger) *HealthChecker {
	return &HealthChecker{
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("component", "health").Logger(),
	}
}

// Check runs all health probes. Resource probe failures degrade the report
// but never error: a health endpoint that fails is worse than a stale one.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ok",
		Databases: make(map[string]string, len(h.databases)),
		CheckedAt: time.Now(),
	}

	for _, db := range h.databases {
		if err := db.HealthCheck(ctx); err != nil {
			status.Databases[db.Name()] = err.Error()
			status.Status = "degraded"
			h.log.Warn().Str("database", db.Name()).Err(err).Msg("Database health check failed")
			continue
		}
		status.Databases[db.Name()] = "ok"
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		status.MemoryUsedPct = vm.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("Memory probe failed")
	}

	if du, err := disk.UsageWithContext(ctx, h.dataDir); err == nil {
		status.DiskUsedPct = du.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("Disk probe failed")
	}

	return status
}
