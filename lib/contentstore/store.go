// Copyright 2026 The Grants Stack Authors
// SPDX-License-Identifier: Apache-2.0

package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/carlbarrdahl/grants-stack/lib/codec"
	"github.com/carlbarrdahl/grants-stack/lib/round"
)

// ErrNotFound is returned by Load for a pointer the store does not hold.
var ErrNotFound = errors.New("document not found")

// ErrCorrupt is returned by Load when a stored document no longer
// hashes to its pointer.
var ErrCorrupt = errors.New("stored document does not match its pointer")

const tmpDir = "tmp"

// envelope is the on-disk record for one document.
type envelope struct {
	Name        string      `cbor:"name"`
	Compression Compression `cbor:"compression"`
	Size        int         `cbor:"size"`
	Data        []byte      `cbor:"data"`
}

// Config configures a Store.
type Config struct {
	// Root is the store directory. Created if missing.
	Root string

	// Compression is tried for every document. Documents it cannot
	// shrink are stored uncompressed.
	Compression Compression

	Logger *slog.Logger
}

// Store saves and loads documents under Root. Save is safe for
// concurrent use, including concurrent saves of equal content.
type Store struct {
	root        string
	compression Compression
	logger      *slog.Logger
}

// New creates a Store, creating its directories if needed.
func New(config Config) (*Store, error) {
	if config.Root == "" {
		return nil, errors.New("contentstore: root directory is required")
	}
	if config.Compression > CompressionZstd {
		return nil, fmt.Errorf("contentstore: unsupported compression %s", config.Compression)
	}
	if err := os.MkdirAll(filepath.Join(config.Root, tmpDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory %s: %w", config.Root, err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		root:        config.Root,
		compression: config.Compression,
		logger:      logger.With("component", "contentstore"),
	}, nil
}

// Save stores document and returns its pointer. The pointer depends
// only on the document content.
func (s *Store) Save(ctx context.Context, document round.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := codec.Marshal(document.Content)
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", document.Name, err)
	}
	if len(data) > MaxDocumentSize {
		return "", fmt.Errorf("%s is %d bytes, over the %d byte limit", document.Name, len(data), MaxDocumentSize)
	}
	pointer := FormatPointer(HashContent(data))
	path := s.path(pointer)

	if _, err := os.Stat(path); err == nil {
		s.logger.Debug("document already stored", "name", document.Name, "pointer", pointer)
		return pointer, nil
	}

	compression := s.compression
	compressed, err := compress(data, compression)
	if errors.Is(err, errIncompressible) {
		compression, compressed, err = CompressionNone, data, nil
	}
	if err != nil {
		return "", fmt.Errorf("compressing %s: %w", document.Name, err)
	}

	record, err := codec.Marshal(envelope{
		Name:        document.Name,
		Compression: compression,
		Size:        len(data),
		Data:        compressed,
	})
	if err != nil {
		return "", fmt.Errorf("encoding envelope for %s: %w", document.Name, err)
	}
	if err := s.writeFile(path, record); err != nil {
		return "", err
	}

	s.logger.Info("document stored",
		"name", document.Name,
		"pointer", pointer,
		"size", len(data),
		"stored_size", len(compressed),
		"compression", compression,
	)
	return pointer, nil
}

// Load returns the document stored under pointer. Content is decoded
// generically, so structs come back as map[string]any.
func (s *Store) Load(ctx context.Context, pointer string) (round.Document, error) {
	if err := ctx.Err(); err != nil {
		return round.Document{}, err
	}
	hash, err := ParsePointer(pointer)
	if err != nil {
		return round.Document{}, err
	}

	record, err := os.ReadFile(s.path(pointer))
	if errors.Is(err, fs.ErrNotExist) {
		return round.Document{}, fmt.Errorf("%w: %s", ErrNotFound, pointer)
	}
	if err != nil {
		return round.Document{}, fmt.Errorf("reading %s: %w", pointer, err)
	}

	var stored envelope
	if err := codec.Unmarshal(record, &stored); err != nil {
		return round.Document{}, fmt.Errorf("decoding envelope %s: %w", pointer, err)
	}
	data, err := decompress(stored.Data, stored.Compression, stored.Size)
	if err != nil {
		return round.Document{}, fmt.Errorf("%s: %w", pointer, err)
	}
	if HashContent(data) != hash {
		return round.Document{}, fmt.Errorf("%w: %s", ErrCorrupt, pointer)
	}

	var content any
	if err := codec.Unmarshal(data, &content); err != nil {
		return round.Document{}, fmt.Errorf("decoding content %s: %w", pointer, err)
	}
	return round.Document{Name: stored.Name, Content: content}, nil
}

// path shards by the first four characters after the multibase prefix.
func (s *Store) path(pointer string) string {
	return filepath.Join(s.root, pointer[1:3], pointer[3:5], pointer+".cbor")
}

// writeFile writes data to path through a temporary file and a rename,
// so a reader never sees a partial envelope.
func (s *Store) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "document-*.cbor")
	if err != nil {
		return fmt.Errorf("creating temp document file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing document: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp document file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming document to %s: %w", path, err)
	}

	success = true
	return nil
}
