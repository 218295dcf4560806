package alert

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/civicsentinel/zonewatch/pkg/types"
)

// SnapshotWriter persists the triggering frame of an alert as a JPEG file
// under a base directory, one file per alert.
type SnapshotWriter struct {
	mu           sync.Mutex
	basePath     string
	bytesWritten uint64
	fileCount    uint64
}

// NewSnapshotWriter creates a writer rooted at basePath, creating the
// directory if needed.
func NewSnapshotWriter(basePath string) (*SnapshotWriter, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &SnapshotWriter{basePath: basePath}, nil
}

// Write stores the frame payload and returns the file path.
func (w *SnapshotWriter) Write(a types.Alert, frame *types.Frame) (string, error) {
	timestamp := a.Timestamp.Format("20060102_150405")
	filename := fmt.Sprintf("alert_%s_zone%d_%s.jpg", timestamp, a.ZoneID, a.ID[:8])
	path := filepath.Join(w.basePath, filename)

	if err := os.WriteFile(path, frame.Data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	w.mu.Lock()
	w.bytesWritten += uint64(len(frame.Data))
	w.fileCount++
	w.mu.Unlock()

	return path, nil
}

// Status reports what has been written so far.
func (w *SnapshotWriter) Status() (files, bytes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fileCount, w.bytesWritten
}
