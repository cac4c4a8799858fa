package scanner

import (
	"strings"

	"hostscan/internal/shared"
)

// parseFirewallState reads netsh's per-profile blocks:
//
//	Domain Profile Settings:
//	------------------------
//	State                                 ON
func parseFirewallState(out string) shared.Record {
	profiles := shared.Record{}
	current := ""
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasSuffix(line, "Profile Settings:"):
			current = strings.ToLower(strings.Fields(line)[0])
		case current != "" && strings.HasPrefix(line, "State"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				profiles[current] = shared.Record{
					"state":   fields[len(fields)-1],
					"enabled": strings.EqualFold(fields[len(fields)-1], "ON"),
				}
			}
			current = ""
		}
	}
	return profiles
}
