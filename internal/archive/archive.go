// Package archive writes committed network snapshots to a blob store as
// zstd-compressed JSON and restores them. Every archive carries the blake3
// digest of its uncompressed JSON in blob metadata; Restore refuses payloads
// whose digest does not match.
package archive

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"roadcore/internal/blob"
	"roadcore/internal/infra/persistence/memory"
	"roadcore/pkg/domain"
)

const (
	// Format tags archives written by this package.
	Format = "roadcore-snapshot/v1"
	// ContentType is the blob content type of an archive.
	ContentType = "application/zstd"

	defaultPrefix = "snapshots"

	metaFormat      = "format"
	metaDigest      = "digest"
	metaLabel       = "label"
	metaNodes       = "nodes"
	metaEdges       = "edges"
	metaConnections = "connection_sets"
	metaCreated     = "created_at"
)

var (
	// ErrDigestMismatch is returned when an archive's content does not hash to
	// the digest recorded at write time.
	ErrDigestMismatch = errors.New("archive digest mismatch")
	// ErrUnknownFormat is returned for blobs not written by this package.
	ErrUnknownFormat = errors.New("unknown archive format")
)

// SnapshotSource exposes the full network state of a store.
type SnapshotSource interface {
	ExportState() memory.Snapshot
}

// SnapshotStore is a store that can be overwritten from a snapshot and
// persisted through a transaction.
type SnapshotStore interface {
	SnapshotSource
	ImportState(memory.Snapshot)
	RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error)
}

// Manifest summarises one archive.
type Manifest struct {
	Key            string    `json:"key"`
	Label          string    `json:"label,omitempty"`
	Digest         string    `json:"digest"`
	Size           int64     `json:"size_bytes"`
	Nodes          int       `json:"nodes"`
	Edges          int       `json:"edges"`
	ConnectionSets int       `json:"connection_sets"`
	CreatedAt      time.Time `json:"created_at"`
}

// Archiver stores and restores snapshots under a key prefix.
type Archiver struct {
	blobs  blob.Store
	prefix string
	now    func() time.Time
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithPrefix sets the key prefix archives are written under.
func WithPrefix(prefix string) Option {
	return func(a *Archiver) {
		if prefix != "" {
			a.prefix = prefix
		}
	}
}

// WithClock overrides the clock used to derive archive keys.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// New returns an Archiver writing to blobs.
func New(blobs blob.Store, opts ...Option) *Archiver {
	a := &Archiver{
		blobs:  blobs,
		prefix: defaultPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Encode returns the compressed archive payload for snapshot and the hex
// blake3 digest of its JSON form.
func Encode(snapshot memory.Snapshot) ([]byte, string, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, "", fmt.Errorf("encode snapshot: %w", err)
	}
	sum := blake3.Sum256(raw)

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return nil, "", fmt.Errorf("create zstd encoder: %w", err)
	}
	if _, err := encoder.Write(raw); err != nil {
		_ = encoder.Close()
		return nil, "", fmt.Errorf("compress snapshot: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, "", fmt.Errorf("compress snapshot: %w", err)
	}
	return compressed.Bytes(), hex.EncodeToString(sum[:]), nil
}

// Decode decompresses payload and checks it against digest. An empty digest
// skips verification.
func Decode(r io.Reader, digest string) (memory.Snapshot, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()
	raw, err := io.ReadAll(decoder)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("decompress snapshot: %w", err)
	}
	if digest != "" {
		sum := blake3.Sum256(raw)
		if got := hex.EncodeToString(sum[:]); got != digest {
			return memory.Snapshot{}, fmt.Errorf("%w: want %s got %s", ErrDigestMismatch, digest, got)
		}
	}
	var snapshot memory.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return memory.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

// Archive writes the current state of src under a new key derived from label
// and the clock.
func (a *Archiver) Archive(ctx context.Context, src SnapshotSource, label string) (Manifest, error) {
	snapshot := src.ExportState()
	payload, digest, err := Encode(snapshot)
	if err != nil {
		return Manifest{}, err
	}
	created := a.now()
	name := created.Format("20060102T150405.000000000Z")
	if label != "" {
		name = label + "-" + name
	}
	key := path.Join(a.prefix, name+".json.zst")
	meta := map[string]string{
		metaFormat:      Format,
		metaDigest:      digest,
		metaNodes:       strconv.Itoa(len(snapshot.Nodes)),
		metaEdges:       strconv.Itoa(len(snapshot.Edges)),
		metaConnections: strconv.Itoa(len(snapshot.ConnectionSets)),
		metaCreated:     created.Format(time.RFC3339Nano),
	}
	if label != "" {
		meta[metaLabel] = label
	}
	info, err := a.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: ContentType,
		Metadata:    meta,
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("store archive %s: %w", key, err)
	}
	return manifestFromInfo(info), nil
}

// Load reads and verifies the archive at key.
func (a *Archiver) Load(ctx context.Context, key string) (memory.Snapshot, Manifest, error) {
	info, rc, err := a.blobs.Get(ctx, key)
	if err != nil {
		return memory.Snapshot{}, Manifest{}, fmt.Errorf("open archive %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	if info.Metadata[metaFormat] != Format {
		return memory.Snapshot{}, Manifest{}, fmt.Errorf("%s: %w %q", key, ErrUnknownFormat, info.Metadata[metaFormat])
	}
	snapshot, err := Decode(rc, info.Metadata[metaDigest])
	if err != nil {
		return memory.Snapshot{}, Manifest{}, fmt.Errorf("%s: %w", key, err)
	}
	return snapshot, manifestFromInfo(info), nil
}

// Restore replaces the state of dst with the archive at key and persists it
// through an empty transaction.
func (a *Archiver) Restore(ctx context.Context, dst SnapshotStore, key string) (Manifest, error) {
	snapshot, m, err := a.Load(ctx, key)
	if err != nil {
		return Manifest{}, err
	}
	dst.ImportState(snapshot)
	if _, err := dst.RunInTransaction(ctx, func(domain.Transaction) error { return nil }); err != nil {
		return Manifest{}, fmt.Errorf("persist restored snapshot: %w", err)
	}
	return m, nil
}

// List returns the manifests of all archives under the prefix, oldest key
// first. Backends whose listings omit metadata are filled in with Head.
func (a *Archiver) List(ctx context.Context) ([]Manifest, error) {
	infos, err := a.blobs.List(ctx, a.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	out := make([]Manifest, 0, len(infos))
	for _, info := range infos {
		if info.Metadata == nil {
			full, err := a.blobs.Head(ctx, info.Key)
			if err != nil {
				return nil, fmt.Errorf("head %s: %w", info.Key, err)
			}
			info = full
		}
		if info.Metadata[metaFormat] != Format {
			continue
		}
		out = append(out, manifestFromInfo(info))
	}
	return out, nil
}

// Latest returns the most recently written archive.
func (a *Archiver) Latest(ctx context.Context) (Manifest, bool, error) {
	all, err := a.List(ctx)
	if err != nil || len(all) == 0 {
		return Manifest{}, false, err
	}
	latest := all[0]
	for _, m := range all[1:] {
		if m.CreatedAt.After(latest.CreatedAt) || (m.CreatedAt.Equal(latest.CreatedAt) && m.Key > latest.Key) {
			latest = m
		}
	}
	return latest, true, nil
}

func manifestFromInfo(info blob.Info) Manifest {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(info.Metadata[k])
		return n
	}
	created := info.LastModified
	if ts, err := time.Parse(time.RFC3339Nano, info.Metadata[metaCreated]); err == nil {
		created = ts
	}
	return Manifest{
		Key:            info.Key,
		Label:          info.Metadata[metaLabel],
		Digest:         info.Metadata[metaDigest],
		Size:           info.Size,
		Nodes:          atoi(metaNodes),
		Edges:          atoi(metaEdges),
		ConnectionSets: atoi(metaConnections),
		CreatedAt:      created,
	}
}
