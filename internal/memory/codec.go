package memory

import (
	"encoding/json"

	"github.com/cortexmesh/core/pkg/types"
)

func encodeEntry(e *types.MemoryEntry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(raw []byte) (*types.MemoryEntry, error) {
	var e types.MemoryEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
