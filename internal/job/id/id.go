// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Generate creates a new unique job ID.
// Format: random UUID v4, e.g. 7f1c9a52-3f4e-4b8e-9d2b-0c6a1e5f8a31
func Generate() string {
	return uuid.NewString()
}
