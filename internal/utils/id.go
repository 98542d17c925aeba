package utils

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string, falling back to a timestamp if the
// entropy source fails.
func NewID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return id.String()
}
