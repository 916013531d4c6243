package xid

import (
	"strings"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// Short returns 8 upper-case hex characters of a random uuid.
func Short() string {
	id := uuid.New()
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}
