package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Metadata message field names. Metadata records travel as single messages
// with the originating filename as the key and the JSON record as the value.
const (
	fieldKey   = "key"
	fieldValue = "value"
)

// MetadataTimestampFormat is the layout of the extraction timestamp field.
const MetadataTimestampFormat = "2006-01-02 15:04:05"

// FileMetadata is the JSON record a reproducer derives from each consumed file.
type FileMetadata struct {
	RelativeFilepath string `json:"relative_filepath"`
	SizeInBytes      int64  `json:"size_in_bytes"`
	ConsumedFrom     string `json:"consumed_from"`
	ConsumedOn       string `json:"consumed_on"`
	ExtractedAt      string `json:"metadata_extracted_at"`
}

// NewFileMetadata builds the metadata record for a downloaded file.
func NewFileMetadata(file *DownloadedFile, sourceTopic, host string, extractedAt time.Time) FileMetadata {
	return FileMetadata{
		RelativeFilepath: file.RelativePath,
		SizeInBytes:      int64(len(file.Data)),
		ConsumedFrom:     sourceTopic,
		ConsumedOn:       host,
		ExtractedAt:      extractedAt.Format(MetadataTimestampFormat),
	}
}

// Values renders the record as stream entry fields.
func (m FileMetadata) Values() (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata record: %w", err)
	}
	return map[string]any{
		fieldKey:   m.RelativeFilepath,
		fieldValue: string(data),
	}, nil
}

// MetadataFromMessage parses a consumed metadata message.
func MetadataFromMessage(msg redis.XMessage) (FileMetadata, error) {
	var m FileMetadata
	value, err := stringField(msg, fieldValue)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(value), &m); err != nil {
		return m, fmt.Errorf("message %s does not hold a metadata record: %w", msg.ID, err)
	}
	return m, nil
}
