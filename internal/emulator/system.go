package emulator

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/demovault/retro-agent/internal/logger"
)

// SampleSystemStats reads host cpu/memory/temperature. Any sensor that is
// unavailable on this host is simply omitted; sampling never fails hard.
func SampleSystemStats(ctx context.Context) *SystemStats {
	stats := &SystemStats{}

	// Percent since the previous call; non-blocking.
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stats.CPUUsage = percents[0]
	} else if err != nil {
		logger.Debugf("system stats: cpu sample failed: %v", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryUsage = vm.UsedPercent
	} else {
		logger.Debugf("system stats: memory sample failed: %v", err)
	}

	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		for _, t := range temps {
			if t.SensorKey == "cpu_thermal" || t.SensorKey == "cpu-thermal" {
				temp := t.Temperature
				stats.Temperature = &temp
				break
			}
		}
	}

	return stats
}
