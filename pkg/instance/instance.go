package instance

import (
	"os"

	"github.com/dmarkov/verifio-backend/pkg/env"
)

// GetID returns the process instance identifier used in log fields. Falls
// back to the hostname so replicas stay distinguishable without extra config.
func GetID() string {
	if id := env.Get("INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
