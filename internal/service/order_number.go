package service

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewOrderNumber formats ORD-YYYYMMDD-XXXXXXXX with eight random hex digits.
// Both stores enforce uniqueness, so a collision fails the placement rather
// than aliasing two orders.
func NewOrderNumber(now time.Time) string {
	id := uuid.New()
	return "ORD-" + now.UTC().Format("20060102") + "-" + strings.ToUpper(hex.EncodeToString(id[:4]))
}
