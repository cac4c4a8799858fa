//go:build !windows

package scanner

import (
	"context"
	"runtime"
	"strings"

	"github.com/pkg/errors"

	"hostscan/internal/shared"
)

func unsupported(what string) shared.Record {
	return shared.Record{
		"status": "unsupported",
		"reason": what + " is only collected on windows, this host runs " + runtime.GOOS,
	}
}

func platformGPUs(ctx context.Context) ([]shared.Record, error) {
	if !commandAvailable("lspci") {
		return []shared.Record{}, errors.New("lspci not found")
	}
	res, err := runCommand(ctx, 0, "lspci", "-mm")
	if err != nil {
		return []shared.Record{}, err
	}
	if res.ExitCode != 0 {
		return []shared.Record{}, errors.Errorf("lspci exited %d: %s", res.ExitCode, firstLine(res.Stderr))
	}
	return parseLspci(res.Stdout), nil
}

func platformMemoryModules(ctx context.Context, opts Options) ([]shared.Record, error) {
	return nil, nil
}

func platformOSDetails(ctx context.Context, opts Options, rec shared.Record) error {
	return nil
}

func platformUpdates(ctx context.Context) (shared.Record, error) {
	rec := unsupported("update history")
	rec["installed_updates"] = []shared.Record{}
	return rec, nil
}

func platformSecurity(ctx context.Context, rec shared.Record) error {
	rec["firewall"] = unsupported("firewall state")
	return nil
}

// parseLspci keeps display controllers from "lspci -mm" output, where each
// line is a sequence of quoted fields: slot "class" "vendor" "device" ...
func parseLspci(out string) []shared.Record {
	gpus := []shared.Record{}
	for _, line := range strings.Split(out, "\n") {
		fields := quotedFields(line)
		if len(fields) < 4 {
			continue
		}
		class := strings.ToLower(fields[1])
		if !strings.Contains(class, "vga") && !strings.Contains(class, "3d") && !strings.Contains(class, "display") {
			continue
		}
		gpus = append(gpus, shared.Record{
			"slot":   fields[0],
			"class":  fields[1],
			"vendor": fields[2],
			"name":   fields[3],
		})
	}
	return gpus
}

func quotedFields(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var out []string
	if i := strings.IndexByte(line, ' '); i > 0 && line[0] != '"' {
		out = append(out, line[:i])
		line = line[i+1:]
	}
	for {
		start := strings.IndexByte(line, '"')
		if start < 0 {
			return out
		}
		end := strings.IndexByte(line[start+1:], '"')
		if end < 0 {
			return out
		}
		out = append(out, line[start+1:start+1+end])
		line = line[start+end+2:]
	}
}
