package stream

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio/v2"
)

// DownloadedFile is a file reassembled from its chunks.
type DownloadedFile struct {
	Filename     string
	RelativePath string
	Data         []byte
}

// WriteTo writes the file under dir, creating intermediate directories and
// using an atomic rename so partially written files are never observable.
func (f *DownloadedFile) WriteTo(dir string) (string, error) {
	path := filepath.Join(dir, filepath.FromSlash(f.RelativePath))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := renameio.WriteFile(path, f.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write downloaded file: %w", err)
	}
	return path, nil
}

// partialFile accumulates chunks of one in-flight file.
type partialFile struct {
	filename     string
	relativePath string
	totalChunks  int64
	fileHash     string
	chunks       map[int64][]byte
}

// Assembler reassembles files from chunks that may arrive out of order and
// interleaved across files. Duplicate chunk delivery is idempotent.
type Assembler struct {
	mu      sync.Mutex
	partial map[string]*partialFile
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{partial: make(map[string]*partialFile)}
}

// InProgress returns the number of files with at least one chunk waiting for
// completion.
func (a *Assembler) InProgress() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.partial)
}

// Add applies one chunk. It returns the reassembled file once the last
// missing chunk arrives, or nil while the file is still incomplete. A
// completed file whose whole-file hash does not match is discarded with an
// error; the chunks are dropped so a republished file can start fresh.
func (a *Assembler) Add(chunk *FileChunk) (*DownloadedFile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.partial[chunk.FileID]
	if !ok {
		p = &partialFile{
			filename:     chunk.Filename,
			relativePath: chunk.RelativePath,
			totalChunks:  chunk.TotalChunks,
			fileHash:     chunk.FileHash,
			chunks:       make(map[int64][]byte, chunk.TotalChunks),
		}
		a.partial[chunk.FileID] = p
	}

	if chunk.TotalChunks != p.totalChunks || chunk.FileHash != p.fileHash {
		return nil, fmt.Errorf("chunk %d of %q disagrees with earlier chunks of the same file id", chunk.ChunkIndex, chunk.Filename)
	}
	if _, dup := p.chunks[chunk.ChunkIndex]; !dup {
		p.chunks[chunk.ChunkIndex] = chunk.Data
	}

	if int64(len(p.chunks)) < p.totalChunks {
		return nil, nil
	}

	delete(a.partial, chunk.FileID)

	indexes := make([]int64, 0, len(p.chunks))
	for i := range p.chunks {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	var data []byte
	for _, i := range indexes {
		data = append(data, p.chunks[i]...)
	}
	if hashHex(data) != p.fileHash {
		return nil, fmt.Errorf("reassembled file %q failed hash verification", p.relativePath)
	}

	return &DownloadedFile{
		Filename:     p.filename,
		RelativePath: p.relativePath,
		Data:         data,
	}, nil
}
