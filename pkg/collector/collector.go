package collector

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultInterval is the sampling interval used when none is configured
const DefaultInterval = time.Second

// Sampler records host resource usage while a load test runs
type Sampler struct {
	config       Config
	logger       zerolog.Logger
	lastNetStats []net.IOCountersStat
	lastCPUStats []cpu.TimesStat
}

// NewSampler creates a new host sampler
func NewSampler(config Config, logger zerolog.Logger) *Sampler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Sampler{
		config: config,
		logger: logger,
	}
}

// Run samples at the configured interval until ctx is done
func (s *Sampler) Run(ctx context.Context) *ResourceData {
	data := &ResourceData{
		Config:    s.config,
		StartTime: time.Now(),
		Samples:   make([]Sample, 0),
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// the first point only primes the cpu and network counters
	s.sample(ctx)

	for {
		select {
		case <-ctx.Done():
			data.EndTime = time.Now()
			data.Duration = data.EndTime.Sub(data.StartTime).Seconds()
			data.Summary = Summarize(data.Samples)
			return data

		case <-ticker.C:
			data.Samples = append(data.Samples, s.sample(ctx))
		}
	}
}

// sample takes one best-effort measurement
func (s *Sampler) sample(ctx context.Context) Sample {
	point := Sample{Timestamp: time.Now()}

	if cpuPercent, err := s.cpuUsage(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to read CPU usage")
	} else {
		point.CPUPercent = cpuPercent
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to read memory usage")
	} else {
		point.MemoryUsedBytes = int64(memInfo.Used)
		point.MemoryPercent = memInfo.UsedPercent
	}

	if networkIO, err := s.networkIO(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to read network counters")
	} else {
		point.Network = networkIO
	}

	point.ProcessRunning = s.processRunning(ctx)
	return point
}

// networkIO returns counter deltas since the previous call
func (s *Sampler) networkIO(ctx context.Context) (NetworkIO, error) {
	current, err := net.IOCountersWithContext(ctx, false)
	if err != nil || len(current) == 0 {
		return NetworkIO{}, err
	}

	if len(s.lastNetStats) == 0 {
		s.lastNetStats = current
		return NetworkIO{}, nil
	}

	last := s.lastNetStats[0]
	s.lastNetStats = current
	return NetworkIO{
		BytesReceived:   int64(current[0].BytesRecv - last.BytesRecv),
		BytesSent:       int64(current[0].BytesSent - last.BytesSent),
		PacketsReceived: int64(current[0].PacketsRecv - last.PacketsRecv),
		PacketsSent:     int64(current[0].PacketsSent - last.PacketsSent),
	}, nil
}

// processRunning reports whether the watched process is alive
func (s *Sampler) processRunning(ctx context.Context) bool {
	if s.config.ProcessName == "" {
		return false
	}

	processes, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false
	}

	for _, proc := range processes {
		name, err := proc.NameWithContext(ctx)
		if err != nil || !strings.Contains(name, s.config.ProcessName) {
			continue
		}
		status, err := proc.StatusWithContext(ctx)
		if err != nil {
			continue
		}
		// running, sleeping or idle
		if len(status) > 0 && (status[0] == "R" || status[0] == "S" || status[0] == "I") {
			return true
		}
	}
	return false
}

// cpuUsage computes the busy percentage between two calls from aggregate CPU times
func (s *Sampler) cpuUsage(ctx context.Context) (float64, error) {
	current, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(current) == 0 {
		return 0, err
	}

	if len(s.lastCPUStats) == 0 {
		s.lastCPUStats = current
		return 0, nil
	}

	usage := busyPercent(s.lastCPUStats[0], current[0])
	s.lastCPUStats = current
	return usage, nil
}

func busyPercent(last, current cpu.TimesStat) float64 {
	total := func(t cpu.TimesStat) float64 {
		return t.User + t.System + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal + t.Idle
	}

	totalDelta := total(current) - total(last)
	if totalDelta <= 0 {
		return 0
	}
	usage := (1.0 - (current.Idle-last.Idle)/totalDelta) * 100.0
	return min(max(usage, 0), 100)
}
