package waybar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Publisher writes the latest payload to a file that status-bar pollers
// read directly.
type Publisher struct {
	path string
	mu   sync.Mutex
}

// NewPublisher returns a publisher for the sink file at path.
func NewPublisher(path string) *Publisher {
	return &Publisher{path: path}
}

// Path returns the sink file location.
func (p *Publisher) Path() string { return p.path }

// Publish replaces the sink with p. The file is written next to the sink
// and renamed over it so readers never observe a partial payload.
func (p *Publisher) Publish(payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating sink directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p.path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp sink: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp sink: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp sink: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp sink: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("replacing sink %s: %w", p.path, err)
	}
	return nil
}

// Load returns the payload currently in the sink.
func (p *Publisher) Load() (Payload, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return Payload{}, fmt.Errorf("reading sink %s: %w", p.path, err)
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Payload{}, fmt.Errorf("parsing sink %s: %w", p.path, err)
	}
	return payload, nil
}
