package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewTemporaryMessageID builds a fallback id for messages the protocol
// delivered without one. Time plus randomness gives best-effort uniqueness
// only; redelivery of such a message cannot be deduplicated.
func NewTemporaryMessageID() string {
	return fmt.Sprintf("tmp-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}
