// Package encoder turns dropped conversation messages into archive files.
//
// The buffer hands every batch it gives up on (abandoned, stuck, evicted,
// expired or pending at shutdown) to the archive. The archive flattens the
// batch with message.DroppedBatch.Records and encodes one row per message:
//
//	message_id, instance_id, counterpart_id, conversation_key, text,
//	image_url, payload, received_at, drop_reason, attempts, last_error,
//	dropped_at
//
// Rows keep arrival order so a replay tool can rebuild the original batch.
//
// # Formats
//
// Parquet rows map to DroppedMessageParquet and the timestamps are
// TIMESTAMP_MICROS, so the files can be queried in place by
// Athena or BigQuery external tables under the reason=/dt=/instance= layout
// written by the storage router. Blank optional fields are stored as NULL.
//
// Avro files embed their schema (namespace com.convbuffer.archive) and use
// nullable unions for the same optional fields. With gzip the whole file is
// compressed and the extension becomes ".avro.gz".
//
// # Usage
//
//	factory := encoder.NewFactory(message.FormatParquet, "zstd")
//	enc, err := factory.CreateEncoder()
//	if err != nil {
//	    return err
//	}
//	stats, err := enc.Encode(path, batch.Records())
//
// Codecs accepted per format are listed by SupportedCompressions; an empty
// compression selects DefaultCompression. Encoders hold no state between
// calls and may be shared across archive workers.
package encoder
