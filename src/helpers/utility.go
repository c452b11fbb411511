package helpers

import "github.com/google/uuid"

// GenerateUUID returns a fresh random identifier. Store handles tag their
// log output with one so interleaved logs from multiple stores stay
// readable.
func GenerateUUID() string {
	return uuid.New().String()
}
