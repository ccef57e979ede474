// Package attachments stores the voice and video files attached to
// messages, on local disk or in a Google Cloud Storage bucket.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("attachment not found")

// Store is an attachment backend.
type Store interface {
	// Put writes the object at key.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	// Open streams the object at key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
	// URL returns a link that grants read access to key for ttl.
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Name identifies the backend in status output.
	Name() string
}

var segmentRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateKey checks that key is a relative slash-separated path whose
// segments are safe file names.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("attachment key must not be empty")
	}
	if len(key) > 512 {
		return fmt.Errorf("attachment key must be at most 512 characters")
	}
	for seg := range strings.SplitSeq(key, "/") {
		if !segmentRe.MatchString(seg) || strings.Contains(seg, "..") {
			return fmt.Errorf("invalid attachment key segment %q", seg)
		}
	}
	return nil
}

var unsafeRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// NewKey builds a unique object key for an upload.
func NewKey(userID, messageID, filename string) string {
	name := unsafeRe.ReplaceAllString(path.Base(filename), "_")
	name = strings.TrimLeft(name, "._-")
	if name == "" {
		name = "file"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return fmt.Sprintf("%s/%s/%s-%s", sanitizeSegment(userID), sanitizeSegment(messageID), uuid.NewString()[:8], name)
}

func sanitizeSegment(s string) string {
	s = strings.TrimLeft(unsafeRe.ReplaceAllString(s, "_"), "._-")
	if s == "" {
		return "x"
	}
	return s
}
