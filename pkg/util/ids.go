package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns an opaque identifier such as "sos_3f2a...".
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
