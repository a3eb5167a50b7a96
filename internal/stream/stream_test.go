package stream

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConfig starts a miniredis broker and returns a config pointing at it.
func newTestConfig(t *testing.T) *Config {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Broker.Addr = mr.Addr()
	cfg.Consumer.BlockTime = 50 * time.Millisecond
	return cfg
}

func writeFixture(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// runProcessor runs p in the background until the context is cancelled.
func runProcessor(ctx context.Context, t *testing.T, p *StreamProcessor, handler FileHandler) *sync.WaitGroup {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Run(ctx, handler)
	}()
	return &wg
}

func TestChunkFile_SplitsAndIndexes(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("x"), 2500)
	path := writeFixture(t, dir, "sub/data.csv", data)

	chunks, err := ChunkFile(path, dir, 1000)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	var total []byte
	for i, c := range chunks {
		assert.Equal(t, int64(i), c.ChunkIndex)
		assert.Equal(t, int64(3), c.TotalChunks)
		assert.Equal(t, int64(len(total)), c.Offset)
		assert.Equal(t, "sub/data.csv", c.RelativePath)
		assert.Equal(t, chunks[0].FileID, c.FileID)
		total = append(total, c.Data...)
	}
	assert.Equal(t, data, total)
}

func TestChunkFile_EmptyFileTravelsAsOneChunk(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "empty.csv", nil)

	chunks, err := ChunkFile(path, dir, 1000)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Data)
}

func TestAssembler_OutOfOrderAndInterleaved(t *testing.T) {
	dir := t.TempDir()
	pathA := writeFixture(t, dir, "a.csv", bytes.Repeat([]byte("a"), 250))
	pathB := writeFixture(t, dir, "b.csv", bytes.Repeat([]byte("b"), 250))

	chunksA, err := ChunkFile(pathA, dir, 100)
	require.NoError(t, err)
	chunksB, err := ChunkFile(pathB, dir, 100)
	require.NoError(t, err)

	a := NewAssembler()
	var completed []*DownloadedFile
	// Interleave the two files and deliver one file's chunks in reverse
	order := []*FileChunk{chunksA[2], chunksB[0], chunksA[1], chunksB[1], chunksB[2], chunksA[0]}
	for _, c := range order {
		file, addErr := a.Add(c)
		require.NoError(t, addErr)
		if file != nil {
			completed = append(completed, file)
		}
	}

	require.Len(t, completed, 2)
	assert.Equal(t, "b.csv", completed[0].RelativePath)
	assert.Equal(t, bytes.Repeat([]byte("b"), 250), completed[0].Data)
	assert.Equal(t, "a.csv", completed[1].RelativePath)
	assert.Equal(t, 0, a.InProgress())
}

func TestAssembler_DuplicateChunksAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "a.csv", bytes.Repeat([]byte("a"), 150))
	chunks, err := ChunkFile(path, dir, 100)
	require.NoError(t, err)

	a := NewAssembler()
	_, err = a.Add(chunks[0])
	require.NoError(t, err)
	_, err = a.Add(chunks[0])
	require.NoError(t, err)

	file, err := a.Add(chunks[1])
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Equal(t, bytes.Repeat([]byte("a"), 150), file.Data)
}

func TestProducerToProcessor_EndToEnd(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Producer.ChunkSize = 64 // force several chunks per file
	logger := logrus.New()

	srcDir := t.TempDir()
	writeFixture(t, srcDir, "readings_aa_2025-03-14-09-26-53.csv", []byte("21.57,48.2"))
	writeFixture(t, srcDir, "nested/blob.bin", bytes.Repeat([]byte{0x00, 0xff}, 200))

	producer := NewProducer(cfg, "htstream.test", logger)
	defer func() { _ = producer.Close() }()
	require.NoError(t, producer.UploadDirectory(context.Background(), srcDir))
	assert.Equal(t, int64(2), producer.FilesUploaded())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	processor, err := NewStreamProcessor(ctx, cfg, "htstream.test", logger)
	require.NoError(t, err)
	defer func() { _ = processor.Close() }()

	outDir := t.TempDir()
	done := make(chan struct{})
	wg := runProcessor(ctx, t, processor, func(file *DownloadedFile) error {
		_, writeErr := file.WriteTo(outDir)
		if processor.FilesProcessed() == 1 { // this is the second completion
			defer close(done)
		}
		return writeErr
	})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for files to be processed")
	}
	cancel()
	wg.Wait()

	got, err := os.ReadFile(filepath.Join(outDir, "readings_aa_2025-03-14-09-26-53.csv"))
	require.NoError(t, err)
	assert.Equal(t, "21.57,48.2", string(got))

	blob, err := os.ReadFile(filepath.Join(outDir, "nested", "blob.bin"))
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x00, 0xff}, 200), blob)

	assert.Equal(t, int64(2), processor.FilesProcessed())
	assert.Equal(t, int64(0), processor.FilesFailed())
	assert.GreaterOrEqual(t, processor.MessagesRead(), int64(2))
}

func TestReproducer_EmitsMetadataRecords(t *testing.T) {
	cfg := newTestConfig(t)
	logger := logrus.New()

	srcDir := t.TempDir()
	writeFixture(t, srcDir, "readings_aa_2025-03-14-09-26-53.csv", []byte("21.57,48.2"))

	producer := NewProducer(cfg, "htstream.files", logger)
	defer func() { _ = producer.Close() }()
	require.NoError(t, producer.UploadDirectory(context.Background(), srcDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reproducer, err := NewReproducer(ctx, cfg, "htstream.files", "htstream.metadata", logger)
	require.NoError(t, err)
	defer func() { _ = reproducer.Close() }()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = reproducer.Run(ctx)
	}()

	// Tail the metadata topic with a fresh consumer group
	metaCfg := *cfg
	metaCtx, metaCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer metaCancel()
	group, err := NewConsumerGroup(metaCtx, &metaCfg, "htstream.metadata", logger)
	require.NoError(t, err)
	defer func() { _ = group.Close() }()

	var record FileMetadata
	for {
		msgs, fetchErr := group.Fetch(metaCtx)
		require.NoError(t, metaCtx.Err(), "timed out waiting for a metadata record")
		require.NoError(t, fetchErr)
		if len(msgs) == 0 {
			continue
		}
		record, err = MetadataFromMessage(msgs[0])
		require.NoError(t, err)
		break
	}
	cancel()
	wg.Wait()

	assert.Equal(t, "readings_aa_2025-03-14-09-26-53.csv", record.RelativeFilepath)
	assert.Equal(t, int64(10), record.SizeInBytes)
	assert.Equal(t, "htstream.files", record.ConsumedFrom)
	assert.NotEmpty(t, record.ConsumedOn)
	_, err = time.Parse(MetadataTimestampFormat, record.ExtractedAt)
	assert.NoError(t, err)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "stream.yaml", []byte(`
broker:
  addr: broker.example.org:6379
consumer:
  group_id: plotters
  start_at: latest
`))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "broker.example.org:6379", cfg.Broker.Addr)
	assert.Equal(t, "plotters", cfg.Consumer.GroupID)
	assert.Equal(t, StartAtLatest, cfg.Consumer.StartAt)
	// Untouched sections keep defaults
	assert.Equal(t, 524288, cfg.Producer.ChunkSize)
	assert.Equal(t, 5*time.Second, cfg.Consumer.BlockTime)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "bad.yaml", []byte("consumer:\n  start_at: sideways\n"))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start_at")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
