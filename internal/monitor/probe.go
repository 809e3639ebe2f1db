package monitor

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// Probe reads raw host metrics. Disk and network values are cumulative
// byte counters since boot; the monitor turns them into rates by
// differencing consecutive samples.
type Probe interface {
	CPUPercent(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (percent float64, availableBytes uint64, err error)
	DiskCounters(ctx context.Context) (readBytes, writeBytes uint64, err error)
	NetCounters(ctx context.Context) (sentBytes, recvBytes uint64, err error)
}

// hostProbe reads the real host via gopsutil.
type hostProbe struct{}

// NewHostProbe returns a probe backed by the operating system.
func NewHostProbe() Probe { return hostProbe{} }

func (hostProbe) CPUPercent(ctx context.Context) (float64, error) {
	// Zero interval reads the counters since the previous call instead
	// of blocking the sample.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, errors.New("no cpu data")
	}
	return percents[0], nil
}

func (hostProbe) Memory(ctx context.Context) (float64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return vm.UsedPercent, vm.Available, nil
}

func (hostProbe) DiskCounters(ctx context.Context) (uint64, uint64, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	var read, write uint64
	for _, c := range counters {
		read += c.ReadBytes
		write += c.WriteBytes
	}
	return read, write, nil
}

func (hostProbe) NetCounters(ctx context.Context) (uint64, uint64, error) {
	counters, err := gopsnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, 0, err
	}
	if len(counters) == 0 {
		return 0, 0, errors.New("no network data")
	}
	return counters[0].BytesSent, counters[0].BytesRecv, nil
}
