package encoder_test

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jittakal/convbuffer/internal/encoder"
	"github.com/jittakal/convbuffer/pkg/message"
)

func Example_encoderFactory() {
	dropped := message.DroppedBatch{
		Key:       message.NewKey("inst-1", "5511999990000"),
		Reason:    message.DropEmergencyEviction,
		DroppedAt: time.Now(),
		Messages: []message.BufferedMessage{
			{ID: "wamid.1", InstanceID: "inst-1", CounterpartID: "5511999990000", Text: "hello", ReceivedAt: time.Now()},
		},
	}

	enc, err := encoder.NewFactory(message.FormatParquet, "snappy").CreateEncoder()
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	dir, _ := os.MkdirTemp("", "encoder-example")
	defer os.RemoveAll(dir)

	stats, err := enc.Encode(filepath.Join(dir, "dropped"+enc.FileExtension()), dropped.Records())
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	fmt.Printf("Encoded %d records\n", stats.RecordCount)
	fmt.Printf("File format: %s\n", enc.Format())

	// Output:
	// Encoded 1 records
	// File format: parquet
}
