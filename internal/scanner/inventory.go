package scanner

import (
	"context"
	"math"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"

	"hostscan/internal/shared"
)

const gib = 1 << 30

// Options is what every provider gets to see about the run.
type Options struct {
	IncludeSensitive bool
}

type ListProvider func(ctx context.Context, opts Options) ([]shared.Record, error)

type RecordProvider func(ctx context.Context, opts Options) (shared.Record, error)

// NamedProvider feeds system_info.extra under Name.
type NamedProvider struct {
	Name string
	Fn   RecordProvider
}

// Providers are the inventory sources, called in field order.
type Providers struct {
	Disks           ListProvider
	GPU             ListProvider
	Memory          RecordProvider
	CPU             RecordProvider
	OperatingSystem RecordProvider
	Updates         RecordProvider
	Security        RecordProvider

	// Extra runs after the fixed providers, in slice order.
	Extra []NamedProvider
}

// DefaultProviders reads the local host through gopsutil, topped up with
// platform probes where gopsutil has no answer.
func DefaultProviders(logger logrus.FieldLogger) Providers {
	inv := &inventory{logger: logger.WithField("component", "inventory")}
	return Providers{
		Disks:           inv.disks,
		GPU:             inv.gpu,
		Memory:          inv.memory,
		CPU:             inv.cpu,
		OperatingSystem: inv.operatingSystem,
		Updates:         inv.updates,
		Security:        inv.security,
		Extra: []NamedProvider{
			{Name: "network", Fn: inv.network},
		},
	}
}

type inventory struct {
	logger logrus.FieldLogger
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func toGB(b uint64) float64 {
	return round2(float64(b) / gib)
}

func sensitive(opts Options, v any) any {
	if !opts.IncludeSensitive {
		return shared.Hidden
	}
	return v
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return shared.Unknown
	}
	return h
}

func (inv *inventory) disks(ctx context.Context, opts Options) ([]shared.Record, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, errors.Wrap(err, "list partitions")
	}

	out := []shared.Record{}
	for _, p := range parts {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			inv.logger.WithError(err).WithField("mountpoint", p.Mountpoint).Warn("no usage for partition")
			continue
		}
		rec := shared.Record{
			"device":       p.Device,
			"mountpoint":   p.Mountpoint,
			"fstype":       p.Fstype,
			"total_gb":     toGB(usage.Total),
			"used_gb":      toGB(usage.Used),
			"free_gb":      toGB(usage.Free),
			"percent_used": round2(usage.UsedPercent),
		}
		if opts.IncludeSensitive {
			if serial, err := disk.SerialNumberWithContext(ctx, p.Device); err == nil && serial != "" {
				rec["serial_number"] = serial
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (inv *inventory) gpu(ctx context.Context, opts Options) ([]shared.Record, error) {
	return platformGPUs(ctx)
}

func (inv *inventory) memory(ctx context.Context, opts Options) (shared.Record, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "virtual memory")
	}
	rec := shared.Record{
		"total_gb":     toGB(vm.Total),
		"available_gb": toGB(vm.Available),
		"used_percent": round2(vm.UsedPercent),
		"modules":      []shared.Record{},
	}

	modules, err := platformMemoryModules(ctx, opts)
	if err != nil {
		inv.logger.WithError(err).Warn("memory modules unavailable")
		rec["modules_error"] = err.Error()
	} else if modules != nil {
		rec["modules"] = modules
	}
	return rec, nil
}

func (inv *inventory) cpu(ctx context.Context, opts Options) (shared.Record, error) {
	rec := shared.Record{
		"architecture": runtime.GOARCH,
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		rec["physical_cores"] = n
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		rec["logical_cores"] = n
	}

	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return rec, errors.Wrap(err, "cpu info")
	}
	if len(infos) > 0 {
		first := infos[0]
		rec["processor_name"] = strings.TrimSpace(first.ModelName)
		rec["manufacturer"] = first.VendorID
		rec["family"] = first.Family
		rec["model"] = first.Model
		rec["stepping"] = int64(first.Stepping)
		rec["cache_size_kb"] = int64(first.CacheSize)
		rec["max_frequency_mhz"] = first.Mhz
	}
	return rec, nil
}

func (inv *inventory) operatingSystem(ctx context.Context, opts Options) (shared.Record, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return shared.Record{"hostname": hostname()}, errors.Wrap(err, "host info")
	}

	name := strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	if name == "" {
		name = info.OS
	}
	rec := shared.Record{
		"system":          info.OS,
		"name":            name,
		"platform":        info.Platform,
		"platform_family": info.PlatformFamily,
		"version":         info.PlatformVersion,
		"release":         info.KernelVersion,
		"architecture":    info.KernelArch,
		"hostname":        info.Hostname,
		"boot_time":       time.Unix(int64(info.BootTime), 0).Local().Format(shared.TimestampLayout),
		"uptime_seconds":  int64(info.Uptime),
		"virtualization":  info.VirtualizationSystem,
		"host_id":         sensitive(opts, info.HostID),
	}

	if err := platformOSDetails(ctx, opts, rec); err != nil {
		inv.logger.WithError(err).Warn("platform OS details unavailable")
		rec["details_error"] = err.Error()
	}
	return rec, nil
}

func (inv *inventory) updates(ctx context.Context, opts Options) (shared.Record, error) {
	return platformUpdates(ctx)
}

func (inv *inventory) security(ctx context.Context, opts Options) (shared.Record, error) {
	rec := shared.Record{}

	ports, err := listeningPorts(ctx)
	if err != nil {
		inv.logger.WithError(err).Warn("open ports unavailable")
		rec["open_ports_error"] = err.Error()
		ports = []shared.Record{}
	}
	rec["open_ports"] = ports

	if err := platformSecurity(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func listeningPorts(ctx context.Context) ([]shared.Record, error) {
	conns, err := net.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, errors.Wrap(err, "connections")
	}

	names := map[int32]string{}
	out := []shared.Record{}
	for _, c := range conns {
		if c.Status != "LISTEN" && !(c.Type == syscall.SOCK_DGRAM && c.Raddr.IP == "") {
			continue
		}
		protocol := "TCP"
		if c.Type == syscall.SOCK_DGRAM {
			protocol = "UDP"
		}
		rec := shared.Record{
			"protocol":      protocol,
			"local_address": c.Laddr.IP,
			"local_port":    int64(c.Laddr.Port),
			"status":        c.Status,
			"pid":           int64(c.Pid),
		}
		if c.Pid > 0 {
			name, ok := names[c.Pid]
			if !ok {
				name = processName(ctx, c.Pid)
				names[c.Pid] = name
			}
			rec["process_name"] = name
		}
		out = append(out, rec)
	}
	return out, nil
}

func processName(ctx context.Context, pid int32) string {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return shared.Unknown
	}
	name, err := p.NameWithContext(ctx)
	if err != nil || name == "" {
		return shared.Unknown
	}
	return name
}

// network lists interfaces with their addresses. MAC addresses are treated
// as sensitive.
func (inv *inventory) network(ctx context.Context, opts Options) (shared.Record, error) {
	ifaces, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "interfaces")
	}
	out := []shared.Record{}
	for _, iface := range ifaces {
		addrs := []string{}
		for _, a := range iface.Addrs {
			addrs = append(addrs, a.Addr)
		}
		out = append(out, shared.Record{
			"name":      iface.Name,
			"mtu":       int64(iface.MTU),
			"flags":     iface.Flags,
			"addresses": addrs,
			"mac":       sensitive(opts, iface.HardwareAddr),
		})
	}
	return shared.Record{"interfaces": out}, nil
}
