package storage

import (
	"encoding/json"

	"github.com/rupinder2/mcp-gateway/internal/gwerrors"
)

// ErrNotFound is returned by Get and HGet when the key or field is absent
// or expired. It classifies as [gwerrors.ErrNotFound].
var ErrNotFound = gwerrors.New(gwerrors.ErrNotFound, "storage: key not found")

// DecodeInto unmarshals raw JSON bytes into out. Shared by backends whose
// native representation keeps values as encoded JSON (Redis, and
// [Backend.HGetAll] on every backend).
func DecodeInto(raw []byte, out any) error {
	return json.Unmarshal(raw, out)
}
