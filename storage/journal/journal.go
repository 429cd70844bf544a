// Package journal appends pool events to a JSONL file, one event per line.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
)

// Journal is a clamm.EventSink backed by a file. It is safe for concurrent use.
type Journal struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Journal {
	return &Journal{path: path}
}

func (j *Journal) Path() string { return j.path }

// Publish appends a single event.
func (j *Journal) Publish(e clamm.Event) error {
	return j.Append([]clamm.Event{e})
}

// Append writes events in order, creating the file and its directory if needed.
func (j *Journal) Append(events []clamm.Event) error {
	if len(events) == 0 {
		return nil
	}

	dir := filepath.Dir(j.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return nil
}

// Read returns every event in the journal at path, in file order.
func Read(path string) ([]clamm.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var events []clamm.Event
	decoder := json.NewDecoder(file)
	for {
		var e clamm.Event
		if err := decoder.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return nil, fmt.Errorf("decode event %d: %w", len(events), err)
		}
		events = append(events, e)
	}
}
