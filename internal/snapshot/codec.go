package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Encode writes the snapshot to w as an indented JSON interchange document.
// Field names and collection order round-trip losslessly.
func Encode(w io.Writer, s *Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// Decode reads a snapshot from an interchange document.
func Decode(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	dec := json.NewDecoder(r)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &s, nil
}

// WriteFile persists the snapshot to path, creating or truncating the file.
func WriteFile(path string, s *Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	if err := Encode(f, s); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to flush snapshot file: %w", err)
	}
	return nil
}

// ReadFile loads a snapshot from path.
func ReadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	return Decode(f)
}
