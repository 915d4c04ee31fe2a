package playback

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// LogVersion is written to header.json.
const LogVersion = "1.0"

// ChunkSize is the number of frames per chunk file.
const ChunkSize = 1000

const (
	headerFile = "header.json"
	indexFile  = "index.bin"
	framesDir  = "frames"
)

// ErrClosed is returned when writing to a closed log.
var ErrClosed = errors.New("frame log is closed")

// LogHeader describes a recorded log.
type LogHeader struct {
	Version     string `json:"version"`
	CreatedNs   int64  `json:"created_ns"`
	Mode        string `json:"mode,omitempty"`
	Rows        int    `json:"rows"`
	Cols        int    `json:"cols"`
	TotalFrames uint64 `json:"total_frames"`
	StartNs     int64  `json:"start_ns"`
	EndNs       int64  `json:"end_ns"`
}

// IndexEntry locates one frame inside the chunk files.
type IndexEntry struct {
	FrameIndex  uint64
	TimestampNs int64
	ChunkID     uint32
	Offset      uint32
}

// LogWriter appends frames to a directory laid out as header.json, an
// index.bin seek index and frames/chunk_NNNN.bin files holding
// length-prefixed JSON frames. The header and index are written on Close.
type LogWriter struct {
	dir string

	mu          sync.Mutex
	header      LogHeader
	index       []IndexEntry
	chunk       int
	chunkFile   *os.File
	chunkOffset uint32
	count       uint64
	closed      bool
}

// CreateLog creates the log directory. mode is stored in the header for
// readers and may be empty.
func CreateLog(dir, mode string) (*LogWriter, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), fmt.Sprintf("gridlock_%d", time.Now().Unix()))
	}
	if err := os.MkdirAll(filepath.Join(dir, framesDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &LogWriter{
		dir:   dir,
		chunk: -1,
		header: LogHeader{
			Version:   LogVersion,
			CreatedNs: time.Now().UnixNano(),
			Mode:      mode,
		},
	}, nil
}

// Dir returns the log directory.
func (w *LogWriter) Dir() string { return w.dir }

// Write appends a frame.
func (w *LogWriter) Write(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	if w.count == 0 {
		w.header.StartNs = f.TimestampNs
		w.header.Rows = f.Grid.Rows
		w.header.Cols = f.Grid.Cols
	}
	w.header.EndNs = f.TimestampNs

	chunk := int(w.count / ChunkSize)
	if chunk != w.chunk {
		if err := w.rotate(chunk); err != nil {
			return err
		}
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", f.Index, err)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.chunkFile.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := w.chunkFile.Write(data); err != nil {
		return fmt.Errorf("failed to write frame data: %w", err)
	}

	w.index = append(w.index, IndexEntry{
		FrameIndex:  f.Index,
		TimestampNs: f.TimestampNs,
		ChunkID:     uint32(chunk),
		Offset:      w.chunkOffset,
	})
	w.chunkOffset += uint32(4 + len(data))
	w.count++
	return nil
}

func (w *LogWriter) rotate(chunk int) error {
	if w.chunkFile != nil {
		if err := w.chunkFile.Close(); err != nil {
			return err
		}
	}
	f, err := os.Create(chunkPath(w.dir, chunk))
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}
	w.chunkFile = f
	w.chunk = chunk
	w.chunkOffset = 0
	return nil
}

// Count returns the number of frames written.
func (w *LogWriter) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes the last chunk and writes the header and index.
func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if w.chunkFile != nil {
		if err := w.chunkFile.Close(); err != nil {
			return fmt.Errorf("failed to close chunk: %w", err)
		}
	}

	w.header.TotalFrames = w.count
	data, err := json.MarshalIndent(w.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, headerFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	f, err := os.Create(filepath.Join(w.dir, indexFile))
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, w.index); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

func chunkPath(dir string, chunk int) string {
	return filepath.Join(dir, framesDir, fmt.Sprintf("chunk_%04d.bin", chunk))
}

// LogReader reads frames back from a closed log.
type LogReader struct {
	dir    string
	header LogHeader
	index  []IndexEntry

	mu        sync.Mutex
	current   int
	chunk     int
	chunkData []byte
}

// OpenLog opens a log written by LogWriter.
func OpenLog(dir string) (*LogReader, error) {
	r := &LogReader{dir: dir, chunk: -1}

	data, err := os.ReadFile(filepath.Join(dir, headerFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(data, &r.header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	f, err := os.Open(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	defer f.Close()

	r.index = make([]IndexEntry, 0, r.header.TotalFrames)
	for {
		var e IndexEntry
		if err := binary.Read(f, binary.LittleEndian, &e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read index: %w", err)
		}
		r.index = append(r.index, e)
	}
	return r, nil
}

// Header returns the log header.
func (r *LogReader) Header() LogHeader { return r.header }

// Len returns the number of frames in the log.
func (r *LogReader) Len() int { return len(r.index) }

// Position returns the index of the frame ReadFrame returns next.
func (r *LogReader) Position() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Seek moves to the i-th frame.
func (r *LogReader) Seek(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.index) {
		return fmt.Errorf("frame index out of range: %d not in [0,%d)", i, len(r.index))
	}
	r.current = i
	return nil
}

// SeekToTimestamp moves to the first frame at or after ts. A timestamp past
// the end seeks to the last frame.
func (r *LogReader) SeekToTimestamp(ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.index) == 0 {
		return io.EOF
	}
	i := sort.Search(len(r.index), func(i int) bool { return r.index[i].TimestampNs >= ts })
	if i == len(r.index) {
		i--
	}
	r.current = i
	return nil
}

// ReadFrame returns the current frame and advances. It returns io.EOF after
// the last frame.
func (r *LogReader) ReadFrame() (Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current >= len(r.index) {
		return Frame{}, io.EOF
	}
	e := r.index[r.current]
	if int(e.ChunkID) != r.chunk {
		data, err := os.ReadFile(chunkPath(r.dir, int(e.ChunkID)))
		if err != nil {
			return Frame{}, fmt.Errorf("failed to load chunk %d: %w", e.ChunkID, err)
		}
		r.chunkData = data
		r.chunk = int(e.ChunkID)
	}

	off := uint64(e.Offset)
	if off+4 > uint64(len(r.chunkData)) {
		return Frame{}, fmt.Errorf("invalid frame offset %d in chunk %d", e.Offset, e.ChunkID)
	}
	n := uint64(binary.LittleEndian.Uint32(r.chunkData[off:]))
	off += 4
	if off+n > uint64(len(r.chunkData)) {
		return Frame{}, fmt.Errorf("invalid frame length %d in chunk %d", n, e.ChunkID)
	}

	var f Frame
	if err := json.Unmarshal(r.chunkData[off:off+n], &f); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame %d: %w", e.FrameIndex, err)
	}
	r.current++
	return f, nil
}

// Close releases the cached chunk.
func (r *LogReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunkData = nil
	r.chunk = -1
	return nil
}
