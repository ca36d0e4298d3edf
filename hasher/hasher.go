package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"

	"pscx/logger"
)

const (
	hashBufferSmallSize      = 32 * 1024
	hashBufferLargeSize      = 128 * 1024
	hashLargeBufferThreshold = 256 * 1024
)

var hashBufferSmallPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferSmallSize)
		return &buf
	},
}

var hashBufferLargePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferLargeSize)
		return &buf
	},
}

// Supported lists the algorithm names accepted by HashReader.
var Supported = []string{"md5", "sha1", "sha256", "xxhash64", "blake3"}

func newHash(algo string) hash.Hash {
	switch algo {
	case "md5":
		return md5.New()
	case "sha1":
		return sha1.New()
	case "sha256":
		return sha256.New()
	case "xxhash64":
		return xxhash.New()
	case "blake3":
		return blake3.New(32, nil)
	}
	return nil
}

// HashReader feeds r once through every requested algorithm. size only
// picks the read buffer; label names the source in log messages.
// Unknown algorithms are skipped with a warning.
func HashReader(r io.Reader, size int64, label string, algorithms []string) map[string]string {
	hashes := make(map[string]string, len(algorithms))

	type hasherEntry struct {
		name string
		h    hash.Hash
	}
	hashers := make([]hasherEntry, 0, len(algorithms))
	seen := make(map[string]struct{}, len(algorithms))
	for _, algo := range algorithms {
		algo = strings.ToLower(strings.TrimSpace(algo))
		if _, ok := seen[algo]; ok {
			continue
		}
		h := newHash(algo)
		if h == nil {
			logger.Warnf("Unsupported hash algorithm: %s", algo)
			continue
		}
		seen[algo] = struct{}{}
		hashers = append(hashers, hasherEntry{name: algo, h: h})
	}
	if len(hashers) == 0 {
		return hashes
	}

	bufferPool := &hashBufferSmallPool
	if size >= hashLargeBufferThreshold {
		bufferPool = &hashBufferLargePool
	}
	bufferPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufferPtr)
	buffer := *bufferPtr
	for {
		n, readErr := r.Read(buffer)
		if n > 0 {
			chunk := buffer[:n]
			for i := range hashers {
				if _, err := hashers[i].h.Write(chunk); err != nil {
					logger.Warnf("Failed to update hash %s for %s: %v", hashers[i].name, label, err)
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				logger.Warnf("Failed to compute hashes for %s: %v", label, readErr)
				return hashes
			}
			break
		}
	}

	for i := range hashers {
		hashes[hashers[i].name] = hex.EncodeToString(hashers[i].h.Sum(nil))
	}
	return hashes
}
