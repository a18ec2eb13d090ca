// Package versionedwriter implements the PUT/DELETE interception spec.md
// §4.8 describes for containers carrying an X-Versions-Location attribute:
// every overwrite is archived into a sibling "versions container" first,
// and a DELETE restores the newest archived copy instead of truly deleting
// the live object, until the archive is exhausted.
package versionedwriter

import (
	"context"
	"fmt"
	"time"

	"object-proxy/internal/proxyerr"
)

// Backend is what the object controller exposes so VersionedWriter can
// orchestrate COPY/DELETE/listing without knowing about ReplicatedRequest,
// the ring, or HTTP at all.
type Backend interface {
	ContainerExists(ctx context.Context, container string) (bool, error)
	Copy(ctx context.Context, srcContainer, srcObject, dstContainer, dstObject string) error
	Delete(ctx context.Context, container, object string) error
	// ListVersionEntries lists object names in versionsContainer under
	// prefix, in the listing's natural lexicographic order — which, given
	// the reverse-timestamp suffix VersionName produces, is newest-first
	// (spec.md §3's invariant).
	ListVersionEntries(ctx context.Context, versionsContainer, prefix string) ([]string, error)
}

// Locker acquires the advisory per-object lock VersionedWriter serializes a
// PUT/DELETE pair through, resolving SPEC_FULL.md's Open Question about a
// versioned DELETE racing a concurrent PUT: both paths lock
// container+"/"+name for the duration of their archive step.
type Locker func(key string) (unlock func(), err error)

// Writer coordinates one container's versioning.
type Writer struct {
	backend Backend
	lock    Locker
}

// New builds a Writer.
func New(backend Backend, lock Locker) *Writer {
	return &Writer{backend: backend, lock: lock}
}

const versionLenDigits = 3

// VersionName encodes the archived name for name at timestamp, per spec.md
// §3: "<zero-padded-original-name-length><original-name>/<reverse-timestamp>".
func VersionName(name string, timestamp time.Time) string {
	return fmt.Sprintf("%0*d%s/%s", versionLenDigits, len(name), name, reverseTimestamp(timestamp))
}

// VersionPrefix is the listing prefix that returns every archived version
// of name, newest first.
func VersionPrefix(name string) string {
	return fmt.Sprintf("%0*d%s/", versionLenDigits, len(name), name)
}

// reverseMax bounds the microsecond timestamps this scheme can represent;
// chosen so `reverseMax - micros` is always non-negative through the year
// 2286, comfortably past any realistic deployment horizon.
const reverseMax = int64(9999999999999999)

func reverseTimestamp(t time.Time) string {
	micros := t.UnixMicro()
	return fmt.Sprintf("%016d", reverseMax-micros)
}

// PreparePut archives the current live object before an overwrite, unless
// there is nothing to archive: no current object, or the current object is
// itself a large-object manifest (spec.md §4.8: "Skip versioning when the
// current object is itself a large-object manifest"). Returns a 412 if the
// versions-target container does not exist.
func (w *Writer) PreparePut(ctx context.Context, container, name, versionsLocation string, currentExists, currentIsManifest bool, timestamp time.Time) error {
	if !currentExists || currentIsManifest {
		return nil
	}

	unlock, _ := w.lock(container + "/" + name)
	defer unlock()

	exists, err := w.backend.ContainerExists(ctx, versionsLocation)
	if err != nil {
		return err
	}
	if !exists {
		return proxyerr.New(proxyerr.KindLookupMiss, 412, "versions container does not exist")
	}

	return w.backend.Copy(ctx, container, name, versionsLocation, VersionName(name, timestamp))
}

// PrepareDelete locates the newest archived version of name (if any),
// copies it back over the live object, and removes it from the archive.
// Restored reports whether a prior version was found and restored; when
// false, the caller should perform a real DELETE of the live object
// (spec.md §4.8: "If no prior version exists, perform a real DELETE").
func (w *Writer) PrepareDelete(ctx context.Context, container, name, versionsLocation string) (restored bool, err error) {
	unlock, _ := w.lock(container + "/" + name)
	defer unlock()

	entries, err := w.backend.ListVersionEntries(ctx, versionsLocation, VersionPrefix(name))
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}

	newest := entries[0]
	if err := w.backend.Copy(ctx, versionsLocation, newest, container, name); err != nil {
		return false, err
	}
	if err := w.backend.Delete(ctx, versionsLocation, newest); err != nil {
		return false, err
	}
	return true, nil
}
