//go:build windows

package scanner

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"hostscan/internal/shared"
)

const (
	powershellTimeout = 60 * time.Second
	softwareSample    = 10
)

// powershell runs script and decodes its ConvertTo-Json output.
func powershell(ctx context.Context, script string) ([]shared.Record, error) {
	res, err := runCommand(ctx, powershellTimeout,
		"powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, errors.Errorf("powershell exited %d: %s", res.ExitCode, firstLine(res.Stderr))
	}
	return decodeRecords([]byte(res.Stdout))
}

func platformGPUs(ctx context.Context) ([]shared.Record, error) {
	return powershell(ctx, `
Get-CimInstance Win32_VideoController | ForEach-Object {
  [pscustomobject]@{
    name = $_.Name
    driver_version = $_.DriverVersion
    driver_date = if ($_.DriverDate) { $_.DriverDate.ToString("yyyy-MM-dd") } else { $null }
    memory_mb = if ($_.AdapterRAM) { [math]::Round($_.AdapterRAM / 1MB, 2) } else { $null }
    video_processor = $_.VideoProcessor
    resolution = "$($_.CurrentHorizontalResolution)x$($_.CurrentVerticalResolution)"
    status = $_.Status
  }
} | ConvertTo-Json -Depth 4 -Compress
`)
}

func platformMemoryModules(ctx context.Context, opts Options) ([]shared.Record, error) {
	modules, err := powershell(ctx, `
Get-CimInstance Win32_PhysicalMemory | ForEach-Object {
  [pscustomobject]@{
    bank_label = $_.BankLabel
    device_locator = $_.DeviceLocator
    capacity_gb = [math]::Round($_.Capacity / 1GB, 2)
    speed_mhz = $_.Speed
    manufacturer = $_.Manufacturer
    part_number = "$($_.PartNumber)".Trim()
    serial_number = "$($_.SerialNumber)".Trim()
  }
} | ConvertTo-Json -Depth 4 -Compress
`)
	if err != nil {
		return nil, err
	}
	for _, m := range modules {
		m["serial_number"] = sensitive(opts, m["serial_number"])
	}
	return modules, nil
}

func platformOSDetails(ctx context.Context, opts Options, rec shared.Record) error {
	rows, err := powershell(ctx, `
$os = Get-CimInstance Win32_OperatingSystem
$cs = Get-CimInstance Win32_ComputerSystem
$key = (Get-CimInstance SoftwareLicensingService -ErrorAction SilentlyContinue).OA3xOriginalProductKey
[pscustomobject]@{
  caption = $os.Caption
  build_number = $os.BuildNumber
  install_date = if ($os.InstallDate) { $os.InstallDate.ToString("yyyy-MM-ddTHH:mm:ss") } else { $null }
  registered_user = $os.RegisteredUser
  serial_number = $os.SerialNumber
  product_key = $key
  domain = $cs.Domain
  manufacturer = $cs.Manufacturer
  model = $cs.Model
} | ConvertTo-Json -Depth 4 -Compress
`)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	row := rows[0]
	if caption := shared.StringField(row, "caption"); caption != shared.Unknown {
		rec["name"] = caption
	}
	for _, k := range []string{"build_number", "install_date", "domain", "manufacturer", "model"} {
		rec[k] = row[k]
	}
	for _, k := range []string{"registered_user", "serial_number", "product_key"} {
		rec[k] = sensitive(opts, row[k])
	}
	return nil
}

func platformUpdates(ctx context.Context) (shared.Record, error) {
	hotfixes, err := powershell(ctx, `
Get-HotFix | Sort-Object InstalledOn -Descending | ForEach-Object {
  [pscustomobject]@{
    hotfix_id = $_.HotFixID
    description = $_.Description
    installed_on = if ($_.InstalledOn) { $_.InstalledOn.ToString("yyyy-MM-dd") } else { $null }
    installed_by = $_.InstalledBy
  }
} | ConvertTo-Json -Depth 4 -Compress
`)
	if err != nil {
		return shared.Record{"installed_updates": []shared.Record{}}, err
	}
	rec := shared.Record{
		"installed_updates": hotfixes,
		"total_installed":   len(hotfixes),
	}
	if len(hotfixes) > 0 {
		rec["last_installed"] = hotfixes[0]["installed_on"]
	}
	return rec, nil
}

func platformSecurity(ctx context.Context, rec shared.Record) error {
	var failed []string

	if profiles, err := firewallProfiles(ctx); err != nil {
		rec["firewall_error"] = err.Error()
		failed = append(failed, "firewall")
	} else {
		rec["firewall"] = profiles
	}

	drivers, err := powershell(ctx, `
Get-CimInstance Win32_PnPEntity | Where-Object { $_.ConfigManagerErrorCode -ne 0 } | ForEach-Object {
  [pscustomobject]@{
    name = $_.Name
    device_id = $_.DeviceID
    error_code = $_.ConfigManagerErrorCode
  }
} | ConvertTo-Json -Depth 4 -Compress
`)
	if err != nil {
		rec["problematic_drivers_error"] = err.Error()
		failed = append(failed, "drivers")
	} else {
		rec["problematic_drivers"] = drivers
	}

	software, err := powershell(ctx, `
$paths = 'HKLM:\Software\Microsoft\Windows\CurrentVersion\Uninstall\*',
         'HKLM:\Software\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall\*'
Get-ItemProperty $paths -ErrorAction SilentlyContinue |
  Where-Object { $_.DisplayName } |
  Sort-Object DisplayName |
  ForEach-Object {
    [pscustomobject]@{
      name = $_.DisplayName
      version = $_.DisplayVersion
      publisher = $_.Publisher
      install_date = $_.InstallDate
    }
  } | ConvertTo-Json -Depth 4 -Compress
`)
	if err != nil {
		rec["installed_software_error"] = err.Error()
		failed = append(failed, "software")
	} else {
		sample := software
		if len(sample) > softwareSample {
			sample = sample[:softwareSample]
		}
		rec["installed_software_summary"] = shared.Record{
			"total_count": len(software),
			"sample":      sample,
		}
	}

	if len(failed) > 0 {
		return errors.Errorf("partial security data: %s", strings.Join(failed, ", "))
	}
	return nil
}

// firewallProfiles parses "netsh advfirewall show allprofiles state".
func firewallProfiles(ctx context.Context) (shared.Record, error) {
	res, err := runCommand(ctx, 0, "netsh", "advfirewall", "show", "allprofiles", "state")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, errors.Errorf("netsh exited %d", res.ExitCode)
	}
	return parseFirewallState(res.Stdout), nil
}
