package instance

import "os"

// GetID returns the sync worker replica identifier for log correlation.
func GetID() string {
	if id := os.Getenv("STOREFRONT_WORKER_ID"); id != "" {
		return id
	}
	return "worker-0"
}
