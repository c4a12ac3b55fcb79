package instance

import (
	"os"
	"strings"
)

// ID identifies this process in lock owners and logs. MARKETLEDGER_INSTANCE_ID
// wins, then the hostname.
func ID() string {
	if id := strings.TrimSpace(os.Getenv("MARKETLEDGER_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "instance-0"
}
