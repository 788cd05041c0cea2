package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/jittakal/convbuffer/pkg/message"
)

func TestNewRouter(t *testing.T) {
	router := NewRouter("s3", "my-bucket", "/archive/")

	if router.protocol != "s3" {
		t.Errorf("protocol = %v, want s3", router.protocol)
	}
	if router.bucket != "my-bucket" {
		t.Errorf("bucket = %v, want my-bucket", router.bucket)
	}
	if router.basePath != "archive" {
		t.Errorf("basePath = %v, want archive", router.basePath)
	}
}

func TestDefaultRouter_Route(t *testing.T) {
	droppedAt := time.Date(2025, 1, 15, 23, 30, 0, 0, time.FixedZone("BRT", -3*3600))

	tests := []struct {
		name       string
		router     *DefaultRouter
		reason     message.DropReason
		instanceID string
		want       string
	}{
		{
			name:       "s3 with base path",
			router:     NewRouter("s3", "bucket", "convbuffer"),
			reason:     message.DropAbandoned,
			instanceID: "inst-1",
			want:       "s3://bucket/convbuffer/dropped/reason=abandoned/dt=2025-01-16/instance=inst-1/",
		},
		{
			name:       "gcs without base path",
			router:     NewRouter("gs", "bucket", ""),
			reason:     message.DropEmergencyEviction,
			instanceID: "inst-2",
			want:       "gs://bucket/dropped/reason=emergency_eviction/dt=2025-01-16/instance=inst-2/",
		},
		{
			name:       "instance id escaped",
			router:     NewRouter("wasbs", "container", "a/b"),
			reason:     message.DropStuck,
			instanceID: "x/y z",
			want:       "wasbs://container/a/b/dropped/reason=stuck/dt=2025-01-16/instance=x%2Fy%20z/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.router.Route(tt.reason, tt.instanceID, droppedAt); got != tt.want {
				t.Errorf("Route() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProtocol(t *testing.T) {
	tests := map[string]string{
		"s3":    "s3",
		"azure": "wasbs",
		"gcs":   "gs",
		"file":  "file",
		"":      "file",
	}
	for backend, want := range tests {
		if got := Protocol(backend); got != want {
			t.Errorf("Protocol(%q) = %s, want %s", backend, got, want)
		}
	}
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 30, 45, 0, time.UTC)

	tests := []struct {
		name       string
		path       string
		scheme     string
		wantPrefix string
	}{
		{"full uri", "s3://bucket/a/b/", "s3", "a/b/dropped_20250115_103045_"},
		{"bucket only", "gs://bucket", "gs", "dropped_20250115_103045_"},
		{"relative path", "a/b", "s3", "a/b/dropped_20250115_103045_"},
		{"leading slash", "/a/", "wasbs", "a/dropped_20250115_103045_"},
		{"empty bucket file uri", "file:///dropped/x/", "file", "dropped/x/dropped_20250115_103045_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := objectKey(tt.path, tt.scheme, ".parquet", now)
			if !strings.HasPrefix(got, tt.wantPrefix) || !strings.HasSuffix(got, ".parquet") {
				t.Errorf("objectKey() = %v, want prefix %v", got, tt.wantPrefix)
			}
		})
	}
}

func TestFileName_Unique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name := fileName(now, ".avro")
		if seen[name] {
			t.Fatalf("duplicate file name %s", name)
		}
		seen[name] = true
	}
}
