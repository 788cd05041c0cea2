// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"

	"github.com/jittakal/convbuffer/pkg/message"
)

// Sentinel errors for common conditions.
var (
	ErrManagerClosed   = errors.New("buffer manager is closed")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrConsumerClosed  = errors.New("consumer is closed")
	ErrPublisherClosed = errors.New("publisher is closed")
	ErrWriterClosed    = errors.New("storage writer is closed")
	ErrConnectionLost  = errors.New("connection lost")
	ErrFlushPanic      = errors.New("flush handler panicked")
)

// FlushError represents a failed processing attempt for a conversation batch.
type FlushError struct {
	Key     message.Key
	Attempt int
	Err     error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush error: key=%s attempt=%d: %v", e.Key, e.Attempt, e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether another attempt may succeed.
// The wrapped error decides when it knows; anything else, including a
// recovered panic, is retried.
func (e *FlushError) IsRetryable() bool {
	var retryable Retryable
	if errors.As(e.Err, &retryable) {
		return retryable.IsRetryable()
	}
	return true
}

// AbandonedError represents a batch dropped after exhausting its attempts.
type AbandonedError struct {
	Key          message.Key
	Attempts     int
	MessageCount int
	Err          error
}

func (e *AbandonedError) Error() string {
	return fmt.Sprintf("batch abandoned: key=%s attempts=%d messages=%d: %v",
		e.Key, e.Attempts, e.MessageCount, e.Err)
}

func (e *AbandonedError) Unwrap() error {
	return e.Err
}

// ValidationError represents an inbound event validation failure.
type ValidationError struct {
	EventID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: event_id=%s field=%s: %s",
		e.EventID, e.Field, e.Reason)
}

// Unwrap lets callers match any validation failure with ErrInvalidMessage.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidMessage
}

// StorageError represents an archive storage operation failure.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// PublishError represents a failure to publish to a Kafka topic.
type PublishError struct {
	Topic string
	Key   string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish error: topic=%s key=%s: %v", e.Topic, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to checking specific error types and sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.IsRetryable()
	}

	if errors.Is(err, ErrConnectionLost) {
		return true
	}

	return false
}

// IsRetryable determines if a StorageError is retryable based on the operation type.
func (e *StorageError) IsRetryable() bool {
	return e.Operation == "write" || e.Operation == "upload" || e.Operation == "create"
}

// IsRetryable reports whether a PublishError is worth retrying.
// Every broker-side failure is, closed publishers are not.
func (e *PublishError) IsRetryable() bool {
	return !errors.Is(e.Err, ErrPublisherClosed)
}
