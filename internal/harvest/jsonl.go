package harvest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// JSONLWriter appends harvest entries to a stream, one JSON object per
// line. Safe for concurrent use.
type JSONLWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLWriter wraps the writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

// Append writes one entry as a JSON line.
func (w *JSONLWriter) Append(entry HarvestEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(entry); err != nil {
		return fmt.Errorf("append harvest entry: %w", err)
	}
	return nil
}

// ReadEntries parses a JSONL stream of harvest entries, skipping blank
// lines.
func ReadEntries(r io.Reader) ([]HarvestEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var entries []HarvestEntry
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var entry HarvestEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("parse harvest entry at line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read harvest entries: %w", err)
	}
	return entries, nil
}
