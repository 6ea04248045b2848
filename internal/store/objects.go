package store

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
)

// object header bytes
const (
	objectRaw  byte = 0
	objectZstd byte = 1
)

// objectPool stores file contents by BLAKE2b-256 hash under objects/<hh>/<hash>
type objectPool struct {
	dir     string
	policy  CompressionPolicy
	skip    map[string]bool
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newObjectPool(dir string, level int, policy CompressionPolicy) (*objectPool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	skip := make(map[string]bool, len(policy.SkipExtensions))
	for _, ext := range policy.SkipExtensions {
		skip[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	return &objectPool{
		dir:     dir,
		policy:  policy,
		skip:    skip,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// HashContent returns the hex BLAKE2b-256 digest used as object address
func HashContent(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (p *objectPool) path(hash string) string {
	return filepath.Join(p.dir, hash[:2], hash)
}

// shouldCompress applies the adaptive policy to a file name and size
func (p *objectPool) shouldCompress(name string, size int64) bool {
	if size < p.policy.MinSize {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return !p.skip[ext]
}

// put stores content if absent and returns its hash. Writes go through a temp
// file and a rename so concurrent writers of the same object never expose a partial one.
func (p *objectPool) put(name string, content []byte) (string, error) {
	hash := HashContent(content)
	target := p.path(hash)
	if _, err := os.Stat(target); err == nil {
		// reuse refreshes the GC grace window
		now := time.Now()
		if err := os.Chtimes(target, now, now); err != nil {
			return "", err
		}
		return hash, nil
	}

	var payload []byte
	if p.shouldCompress(name, int64(len(content))) {
		payload = append([]byte{objectZstd}, p.encoder.EncodeAll(content, nil)...)
	} else {
		payload = append([]byte{objectRaw}, content...)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-"+hash[:8]+"-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return hash, nil
}

// get loads and decompresses an object
func (p *objectPool) get(hash string) ([]byte, error) {
	if len(hash) < 2 {
		return nil, fmt.Errorf("invalid object hash %q", hash)
	}
	data, err := os.ReadFile(p.path(hash))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("object %s: empty", hash)
	}

	switch data[0] {
	case objectRaw:
		return data[1:], nil
	case objectZstd:
		content, err := p.decoder.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decompress object %s: %w", hash, err)
		}
		return content, nil
	default:
		return nil, fmt.Errorf("object %s: unknown header %d", hash, data[0])
	}
}

// walk visits every stored object
func (p *objectPool) walk(fn func(hash, path string, size int64, modTime time.Time) error) error {
	return filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(d.Name(), path, info.Size(), info.ModTime())
	})
}

func (p *objectPool) close() {
	p.encoder.Close()
	p.decoder.Close()
}
