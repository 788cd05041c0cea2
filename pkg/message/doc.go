// Package message defines the public data model of the conversation buffer.
//
// # Buffered Messages
//
// BufferedMessage is one inbound WhatsApp message plus the metadata the buffer
// needs to group it: the conversation identity, arrival time, and whether it
// carries text, an image reference, or neither.
//
//	msg := message.BufferedMessage{
//	    ID:            "wamid.HBgM...",
//	    InstanceID:    "instance-1",
//	    CounterpartID: "5511999999999",
//	    Text:          "hello",
//	    ReceivedAt:    time.Now(),
//	}
//	key := msg.Key() // "instance-1:5511999999999"
//
// # Batches
//
// Batch is the unit handed downstream once a conversation goes quiet:
//
//	batch := message.NewBatch(batchID, key, messages, attempt)
//
// # Dropped Messages
//
// DroppedBatch describes messages the buffer discarded without processing
// (abandoned after retries, evicted, or past their lifetime). Record flattens
// it into one row per message for archival:
//
//	records := dropped.Records()
//
// # File Formats
//
//	message.FormatParquet  // Columnar format for analytics
//	message.FormatAvro     // Row-based format with schema
package message
