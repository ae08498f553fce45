// Package recorder writes accepted frames to newline-delimited JSON files that
// the replay command can feed back through an engine.
package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IdanVahab/Temi-Server/internal/logger"
	"github.com/IdanVahab/Temi-Server/pkg/types"
)

var log = logger.Module("Recorder")

var (
	// ErrRecording is returned by Start while a recording is open.
	ErrRecording = errors.New("already recording")
	// ErrNotRecording is returned by Stop when nothing is being recorded.
	ErrNotRecording = errors.New("not recording")
)

// Entry is one recorded line. It decodes as a types.FramePayload.
type Entry struct {
	SessionID string               `json:"session_id"`
	Labels    []string             `json:"labels"`
	Tracks    []types.TrackPayload `json:"tracks,omitempty"`
	Timestamp float64              `json:"timestamp"`
}

// Recorder records frames to file
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	w            *bufio.Writer
	filename     string
	basePath     string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	dropped      atomic.Uint64
	startTime    time.Time
	entries      chan Entry
	wg           sync.WaitGroup
	now          func() time.Time
}

// NewRecorder creates a recorder that writes under basePath.
func NewRecorder(basePath string) *Recorder {
	return &Recorder{
		basePath: basePath,
		now:      time.Now,
	}
}

// Start opens a new file. An empty name gets a timestamped one.
func (r *Recorder) Start(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrRecording
	}

	if name == "" {
		name = fmt.Sprintf("frames_%s.jsonl", r.now().Format("20060102_150405"))
	}
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid recording name %q", name)
	}
	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording directory: %w", err)
	}

	path := filepath.Join(r.basePath, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.w = bufio.NewWriter(file)
	r.filename = name
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.dropped.Store(0)
	r.startTime = r.now()
	// Buffer about two seconds at 30 fps
	r.entries = make(chan Entry, 64)

	r.wg.Add(1)
	go r.writeEntries(r.entries)

	log.Info("Recording frames to %s", path)
	return name, nil
}

// Stop flushes and closes the current file.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.recording = false
	close(r.entries)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	name := r.filename
	if r.file == nil {
		return name, nil
	}
	err := r.w.Flush()
	if syncErr := r.file.Sync(); err == nil {
		err = syncErr
	}
	if closeErr := r.file.Close(); err == nil {
		err = closeErr
	}
	r.file = nil
	r.w = nil
	if err != nil {
		return name, fmt.Errorf("failed to close recording: %w", err)
	}
	log.Info("Recording stopped: %s (%d frames, %d dropped)", name, r.frameCount, r.dropped.Load())
	return name, nil
}

// Record queues a frame without blocking. It reports false when idle or
// when the queue is full.
func (r *Recorder) Record(sessionID string, frame types.FramePayload, at time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}

	entry := Entry{
		SessionID: sessionID,
		Labels:    frame.Labels,
		Tracks:    frame.Tracks,
		Timestamp: float64(at.UnixNano()) / float64(time.Second),
	}
	select {
	case r.entries <- entry:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) writeEntries(entries <-chan Entry) {
	defer r.wg.Done()
	for entry := range entries {
		r.writeEntry(entry)
	}
}

func (r *Recorder) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		log.Warn("Failed to encode frame: %v", err)
		return
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.w == nil {
		return
	}
	n, err := r.w.Write(data)
	if err != nil {
		log.Warn("Failed to write frame: %v", err)
		return
	}
	r.bytesWritten += uint64(n)
	r.frameCount++
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Status returns the current recording status
func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = r.now().Sub(r.startTime)
	}

	return Status{
		Recording:    r.recording,
		Filename:     r.filename,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Dropped:      r.dropped.Load(),
		DurationMs:   duration.Milliseconds(),
	}
}

// Close stops an active recording.
func (r *Recorder) Close() error {
	if r.IsRecording() {
		_, err := r.Stop()
		return err
	}
	return nil
}

// Status holds the current recording status
type Status struct {
	Recording    bool   `json:"recording"`
	Filename     string `json:"filename,omitempty"`
	FrameCount   uint64 `json:"frame_count"`
	BytesWritten uint64 `json:"bytes_written"`
	Dropped      uint64 `json:"dropped"`
	DurationMs   int64  `json:"duration_ms"`
}
