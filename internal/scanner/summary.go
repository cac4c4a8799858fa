package scanner

import (
	"fmt"
	"strings"

	humanize "github.com/dustin/go-humanize"

	"hostscan/internal/shared"
)

const summaryWidth = 70

// FormatSummary renders the headline facts of a scan as a boxed block.
func FormatSummary(doc *shared.ScanDocument) string {
	hw := doc.SystemInfo.Hardware
	osInfo := doc.SystemInfo.OperatingSystem
	rule := strings.Repeat("═", summaryWidth)

	var b strings.Builder
	line := func(format string, args ...any) {
		b.WriteString("║ ")
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	b.WriteString("╔" + rule + "\n")
	line("SCAN SUMMARY")
	b.WriteString("╠" + rule + "\n")
	line("Scan ID:    %s", orNA(doc.Identifiers.ScanID))
	line("Access PIN: %s", orNA(doc.Identifiers.AccessPin))
	line("Timestamp:  %s", orNA(doc.Identifiers.Timestamp))
	b.WriteString("╠" + rule + "\n")
	line("Operating system: %s", field(osInfo, "name"))
	line("Hostname:         %s", field(osInfo, "hostname"))
	line("Architecture:     %s", field(osInfo, "architecture"))
	b.WriteString("╠" + rule + "\n")
	line("CPU:   %s", field(hw.CPU, "processor_name"))
	line("RAM:   %s", memory(hw.Memory))
	line("Disks: %d detected", len(hw.Disks))
	line("GPU:   %d detected", len(hw.GPU))
	if n := len(doc.SystemInfo.CollectionErrors); n > 0 {
		line("Partial sections: %d", n)
	}
	if fi := doc.FileInfo; fi != nil {
		b.WriteString("╠" + rule + "\n")
		line("File: %s (%s)", fi.Filename, humanize.Bytes(uint64(fi.FileSizeBytes)))
	}
	if doc.MongoDBInfo != nil {
		line("Remote: %s.%s (attempt %d)",
			doc.MongoDBInfo.Database, doc.MongoDBInfo.Collection, doc.MongoDBInfo.Attempt)
	}
	b.WriteString("╚" + rule + "\n")
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func field(r shared.Record, key string) string {
	v, ok := r[key]
	if !ok || v == nil || v == "" {
		return "N/A"
	}
	return fmt.Sprint(v)
}

func memory(r shared.Record) string {
	var gb float64
	switch v := r["total_gb"].(type) {
	case float64:
		gb = v
	case int:
		gb = float64(v)
	case int64:
		gb = float64(v)
	default:
		return "N/A"
	}
	return humanize.IBytes(uint64(gb * gib))
}
