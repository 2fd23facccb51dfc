// Package id provides unique identifier generation for jobs.
package id

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: job-<unix seconds>-<12 hex chars of a random UUID>
// Example: job-1701432000-9f1c2e7ab04d
func Generate() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("job-%d-%s", time.Now().Unix(), random[:12])
}

// IsValid reports whether s has the shape produced by Generate.
func IsValid(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || parts[0] != "job" || len(parts[2]) != 12 {
		return false
	}
	for _, r := range parts[1] + parts[2] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return parts[1] != ""
}
