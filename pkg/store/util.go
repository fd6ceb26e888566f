package store

import (
	"fmt"
	"strings"
)

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize elements.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// ObjectKey is the storage key of a session artifact, for example
// "sessions/abc/stage-3.ttl". Stage 0 names the whole graph.
func ObjectKey(sessionID string, stage int, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if stage == 0 {
		return fmt.Sprintf("sessions/%s/graph.%s", sessionID, ext)
	}
	return fmt.Sprintf("sessions/%s/stage-%d.%s", sessionID, stage, ext)
}

// SessionPrefix is the common key prefix of all artifacts of a session.
func SessionPrefix(sessionID string) string {
	return "sessions/" + sessionID + "/"
}
