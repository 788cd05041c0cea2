// Package storage implements archive storage writers and path routing.
package storage

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jittakal/convbuffer/pkg/message"
	"github.com/jittakal/convbuffer/pkg/storage"
)

// Ensure implementation satisfies interface.
var _ storage.Router = (*DefaultRouter)(nil)

// DefaultRouter implements Hive-style partitioning for archive paths.
type DefaultRouter struct {
	protocol string
	bucket   string
	basePath string
}

// NewRouter creates a new storage router.
func NewRouter(protocol, bucket, basePath string) *DefaultRouter {
	return &DefaultRouter{
		protocol: protocol,
		bucket:   bucket,
		basePath: strings.Trim(basePath, "/"),
	}
}

// Route returns the directory for a dropped batch.
// Format: protocol://bucket/basePath/dropped/reason=R/dt=YYYY-MM-DD/instance=ID/
// Partitioning uses the drop time, not the time the messages arrived.
func (r *DefaultRouter) Route(reason message.DropReason, instanceID string, droppedAt time.Time) string {
	date := droppedAt.UTC().Format("2006-01-02")

	segments := make([]string, 0, 5)
	if r.basePath != "" {
		segments = append(segments, r.basePath)
	}
	segments = append(segments,
		"dropped",
		"reason="+string(reason),
		"dt="+date,
		"instance="+url.PathEscape(instanceID),
	)

	return fmt.Sprintf("%s://%s/%s/", r.protocol, r.bucket, strings.Join(segments, "/"))
}

// Protocol returns the URI scheme used for a storage backend.
func Protocol(backend string) string {
	switch backend {
	case "s3":
		return "s3"
	case "azure":
		return "wasbs"
	case "gcs":
		return "gs"
	default:
		return "file"
	}
}

// objectKey strips the scheme and bucket from a routed path and appends
// a unique file name. Plain relative paths are returned as-is.
func objectKey(path, scheme, ext string, now time.Time) string {
	key := path
	if prefix := scheme + "://"; strings.HasPrefix(path, prefix) {
		parts := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 2)
		if len(parts) == 2 {
			key = parts[1]
		} else {
			key = ""
		}
	}
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return strings.TrimPrefix(key+fileName(now, ext), "/")
}

// fileName generates dropped_YYYYMMDD_HHMMSS_<id>.{ext}
func fileName(now time.Time, ext string) string {
	return fmt.Sprintf("dropped_%s_%s%s",
		now.UTC().Format("20060102_150405"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		ext,
	)
}
