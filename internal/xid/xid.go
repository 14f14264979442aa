package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// Number builds a short human-facing document number such as PICK-3F9A21
// from an id produced by New.
func Number(prefix string, id string) string {
	compact := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(compact) > 6 {
		compact = compact[len(compact)-6:]
	}
	return prefix + "-" + compact
}
