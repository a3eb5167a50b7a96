package stream

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Stream entry field names for file-chunk messages.
const (
	fieldFileID       = "file_id"
	fieldFilename     = "filename"
	fieldRelativePath = "relative_path"
	fieldChunkIndex   = "chunk_i"
	fieldTotalChunks  = "n_chunks"
	fieldOffset       = "offset"
	fieldChunkHash    = "chunk_hash"
	fieldFileHash     = "file_hash"
	fieldData         = "data"
)

// FileChunk is one piece of a file in flight through a topic. Chunks carry
// enough metadata to be reassembled out of order and interleaved with chunks
// of other files.
type FileChunk struct {
	FileID       string
	Filename     string
	RelativePath string
	ChunkIndex   int64
	TotalChunks  int64
	Offset       int64
	ChunkHash    string
	FileHash     string
	Data         []byte
}

// Values renders the chunk as stream entry fields.
func (c *FileChunk) Values() map[string]any {
	return map[string]any{
		fieldFileID:       c.FileID,
		fieldFilename:     c.Filename,
		fieldRelativePath: c.RelativePath,
		fieldChunkIndex:   strconv.FormatInt(c.ChunkIndex, 10),
		fieldTotalChunks:  strconv.FormatInt(c.TotalChunks, 10),
		fieldOffset:       strconv.FormatInt(c.Offset, 10),
		fieldChunkHash:    c.ChunkHash,
		fieldFileHash:     c.FileHash,
		fieldData:         string(c.Data),
	}
}

// ChunkFromMessage parses a consumed stream entry back into a FileChunk.
func ChunkFromMessage(msg redis.XMessage) (*FileChunk, error) {
	chunk := &FileChunk{}
	var err error
	if chunk.FileID, err = stringField(msg, fieldFileID); err != nil {
		return nil, err
	}
	if chunk.Filename, err = stringField(msg, fieldFilename); err != nil {
		return nil, err
	}
	if chunk.RelativePath, err = stringField(msg, fieldRelativePath); err != nil {
		return nil, err
	}
	if chunk.ChunkHash, err = stringField(msg, fieldChunkHash); err != nil {
		return nil, err
	}
	if chunk.FileHash, err = stringField(msg, fieldFileHash); err != nil {
		return nil, err
	}
	if chunk.ChunkIndex, err = intField(msg, fieldChunkIndex); err != nil {
		return nil, err
	}
	if chunk.TotalChunks, err = intField(msg, fieldTotalChunks); err != nil {
		return nil, err
	}
	if chunk.Offset, err = intField(msg, fieldOffset); err != nil {
		return nil, err
	}

	data, err := stringField(msg, fieldData)
	if err != nil {
		return nil, err
	}
	chunk.Data = []byte(data)

	if sum := hashHex(chunk.Data); sum != chunk.ChunkHash {
		return nil, fmt.Errorf("chunk %d of %q failed hash verification", chunk.ChunkIndex, chunk.Filename)
	}
	if chunk.TotalChunks <= 0 || chunk.ChunkIndex < 0 || chunk.ChunkIndex >= chunk.TotalChunks {
		return nil, fmt.Errorf("chunk %d of %q has inconsistent indexing (total %d)", chunk.ChunkIndex, chunk.Filename, chunk.TotalChunks)
	}
	return chunk, nil
}

// ChunkFile splits the file at path into hashed chunks of at most chunkSize
// bytes. relativeTo controls the RelativePath recorded on each chunk; when it
// is empty, the bare filename is used.
func ChunkFile(path, relativeTo string, chunkSize int) ([]*FileChunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive (%d given)", chunkSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file for upload: %w", err)
	}

	relPath := filepath.Base(path)
	if relativeTo != "" {
		if rel, relErr := filepath.Rel(relativeTo, path); relErr == nil {
			relPath = filepath.ToSlash(rel)
		}
	}

	fileID := uuid.NewString()
	fileHash := hashHex(data)
	total := int64(len(data)+chunkSize-1) / int64(chunkSize)
	if total == 0 {
		total = 1 // an empty file still travels as one empty chunk
	}

	chunks := make([]*FileChunk, 0, total)
	for i := int64(0); i < total; i++ {
		start := i * int64(chunkSize)
		end := start + int64(chunkSize)
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		payload := data[start:end]
		chunks = append(chunks, &FileChunk{
			FileID:       fileID,
			Filename:     filepath.Base(path),
			RelativePath: relPath,
			ChunkIndex:   i,
			TotalChunks:  total,
			Offset:       start,
			ChunkHash:    hashHex(payload),
			FileHash:     fileHash,
			Data:         payload,
		})
	}
	return chunks, nil
}

func hashHex(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}

func stringField(msg redis.XMessage, field string) (string, error) {
	v, ok := msg.Values[field]
	if !ok {
		return "", fmt.Errorf("message %s is missing field %q", msg.ID, field)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("message %s field %q is not a string", msg.ID, field)
	}
	return s, nil
}

func intField(msg redis.XMessage, field string) (int64, error) {
	s, err := stringField(msg, field)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("message %s field %q is not an integer: %w", msg.ID, field, err)
	}
	return n, nil
}
