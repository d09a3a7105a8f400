// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pkgcache is the archive cache under R/cache: fetched .pnd
// bodies stored compressed, keyed by the BLAKE3 hash of their source
// URL. It is purely an optimization layer — a hit feeds the same
// digest verification as a fresh download, so a corrupted or tampered
// cache file can cost a re-fetch but never integrity. Corrupt entries
// are deleted and reported as misses.
package pkgcache

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Cache file format constants. The header is magic + compression tag
// + uncompressed size, followed by the (possibly compressed) archive
// bytes.
const (
	cacheMagic      = "PNDCACHE"
	cacheHeaderSize = len(cacheMagic) + 1 + 8
	cacheFileSuffix = ".pcz"
)

// Tag identifies the compression algorithm of one cache file. Stored
// as a single byte in the header; the values are format constants.
type Tag uint8

const (
	// TagNone stores the archive uncompressed. Used when compression
	// would not pay (already-compressed payloads).
	TagNone Tag = 0

	// TagLZ4 is LZ4 frame compression: cheap to decode, modest ratio.
	TagLZ4 Tag = 1

	// TagZstd is zstd compression: the default for package archives.
	TagZstd Tag = 2
)

// String returns the tag's human-readable name.
func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagLZ4:
		return "lz4"
	case TagZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseTag parses a tag name.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return TagNone, nil
	case "lz4":
		return TagLZ4, nil
	case "zstd":
		return TagZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag %q", name)
	}
}

// Cache is the archive cache rooted at one directory (R/cache).
type Cache struct {
	dir string
}

// New opens the cache at dir, creating it if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Key returns the cache key for a URL: the BLAKE3 hash of the URL
// bytes, hex encoded. The key addresses the cache slot only — content
// integrity stays with the SHA-256 manifest digest.
func Key(url string) string {
	sum := blake3.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// path shards cache files by the first key byte to keep directory
// sizes sane.
func (c *Cache) path(url string) string {
	key := Key(url)
	return filepath.Join(c.dir, key[:2], key+cacheFileSuffix)
}

// Put stores the file at srcPath as the cached body for url,
// compressed with the given tag, through a temp-then-rename in the
// cache directory.
func (c *Cache) Put(url, srcPath string, tag Tag) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", srcPath, err)
	}

	finalPath := c.path(url)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating cache shard: %w", err)
	}

	tmpFile, err := os.CreateTemp(c.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("creating cache temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	var header [cacheHeaderSize]byte
	copy(header[:], cacheMagic)
	header[len(cacheMagic)] = byte(tag)
	binary.LittleEndian.PutUint64(header[len(cacheMagic)+1:], uint64(info.Size()))
	if _, err := tmpFile.Write(header[:]); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing cache header: %w", err)
	}

	if err := compressInto(tmpFile, src, tag); err != nil {
		tmpFile.Close()
		return fmt.Errorf("compressing cache entry: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing cache temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("publishing cache entry: %w", err)
	}
	success = true
	return nil
}

// Get materializes the cached body for url into a temp file under
// tmpDir and returns its path. A miss returns ok=false with no error.
// A corrupt entry (bad magic, unknown tag, short or oversized stream)
// is deleted and reported as a miss.
func (c *Cache) Get(url, tmpDir string) (path string, ok bool, err error) {
	cachePath := c.path(url)
	file, err := os.Open(cachePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("opening cache entry: %w", err)
	}
	defer file.Close()

	out, err := c.decompress(file, tmpDir)
	if err != nil {
		// Corruption: drop the entry, treat as a miss.
		os.Remove(cachePath)
		if out != "" {
			os.Remove(out)
		}
		return "", false, nil
	}
	return out, true, nil
}

func (c *Cache) decompress(file *os.File, tmpDir string) (string, error) {
	var header [cacheHeaderSize]byte
	if _, err := io.ReadFull(file, header[:]); err != nil {
		return "", err
	}
	if string(header[:len(cacheMagic)]) != cacheMagic {
		return "", fmt.Errorf("bad cache magic")
	}
	tag := Tag(header[len(cacheMagic)])
	wantSize := binary.LittleEndian.Uint64(header[len(cacheMagic)+1:])

	reader, closer, err := decompressor(file, tag)
	if err != nil {
		return "", err
	}
	defer closer()

	out, err := os.CreateTemp(tmpDir, "cache-*.pnd")
	if err != nil {
		return "", err
	}
	outPath := out.Name()

	written, err := io.Copy(out, reader)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return outPath, err
	}
	if uint64(written) != wantSize {
		return outPath, fmt.Errorf("cache entry decompressed to %d bytes, recorded %d", written, wantSize)
	}
	return outPath, nil
}

func compressInto(dst io.Writer, src io.Reader, tag Tag) error {
	switch tag {
	case TagNone:
		_, err := io.Copy(dst, src)
		return err
	case TagLZ4:
		writer := lz4.NewWriter(dst)
		if _, err := io.Copy(writer, src); err != nil {
			writer.Close()
			return err
		}
		return writer.Close()
	case TagZstd:
		writer, err := zstd.NewWriter(dst)
		if err != nil {
			return err
		}
		if _, err := io.Copy(writer, src); err != nil {
			writer.Close()
			return err
		}
		return writer.Close()
	default:
		return fmt.Errorf("unsupported compression tag %d", tag)
	}
}

func decompressor(src io.Reader, tag Tag) (io.Reader, func(), error) {
	switch tag {
	case TagNone:
		return src, func() {}, nil
	case TagLZ4:
		return lz4.NewReader(src), func() {}, nil
	case TagZstd:
		reader, err := zstd.NewReader(src)
		if err != nil {
			return nil, nil, err
		}
		return reader, reader.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression tag %d", tag)
	}
}
