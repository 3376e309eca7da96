package amqp

import (
	"encoding/json"
	"time"
)

// IngestMessage asks the worker to run one photo through the ingestion
// pipeline. It carries only the path; the worker reads and hashes the
// file itself so stale messages for replaced files stay harmless.
type IngestMessage struct {
	ImagePath string    `json:"image_path"`
	Timestamp time.Time `json:"timestamp"`
}

func NewIngestMessage(imagePath string) *IngestMessage {
	return &IngestMessage{
		ImagePath: imagePath,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *IngestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON creates a message from JSON bytes
func IngestMessageFromJSON(data []byte) (*IngestMessage, error) {
	var msg IngestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
