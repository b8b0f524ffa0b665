package embedder

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/chatmemory/backend/internal/chunker"
)

// metadataJSON keeps the raw chunker record alongside the queryable columns.
func metadataJSON(ch chunker.Chunk) datatypes.JSON {
	meta := map[string]any{
		"msg_ids":           ch.MsgIDs,
		"message_count":     ch.MessageCount,
		"is_grouped":        ch.MessageCount > 1,
		"time_span_seconds": ch.TimeSpanSeconds,
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(b)
}
