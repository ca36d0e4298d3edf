package hasher

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"pscx/logger"
)

func TestHashReader(t *testing.T) {
	logger.Init("info")
	hashes := HashReader(strings.NewReader("hello world"), 11, "zone", []string{"md5", "sha1", "sha256", "unknown"})
	if hashes["md5"] != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("md5 mismatch: %s", hashes["md5"])
	}
	if hashes["sha1"] != "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed" {
		t.Errorf("sha1 mismatch: %s", hashes["sha1"])
	}
	if hashes["sha256"] != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Errorf("sha256 mismatch: %s", hashes["sha256"])
	}
	if _, ok := hashes["unknown"]; ok {
		t.Errorf("unexpected hash for unknown algorithm")
	}
}

func TestHashReaderLargeBuffer(t *testing.T) {
	logger.Init("info")
	payload := strings.Repeat("a", hashLargeBufferThreshold+1)
	small := HashReader(strings.NewReader(payload), 0, "small", []string{"sha256"})
	large := HashReader(strings.NewReader(payload), int64(len(payload)), "large", []string{"sha256"})
	if small["sha256"] == "" || small["sha256"] != large["sha256"] {
		t.Fatalf("buffer size changed the digest: %v vs %v", small, large)
	}
}

func TestHashReaderExtendedAlgorithms(t *testing.T) {
	logger.Init("info")
	hashes := HashReader(strings.NewReader(""), 0, "empty", []string{"xxhash64", "BLAKE3", "xxhash64"})
	if len(hashes) != 2 {
		t.Fatalf("expected 2 hashes, got %v", hashes)
	}
	if hashes["xxhash64"] != "ef46db3751d8e999" {
		t.Errorf("xxhash64 mismatch: %s", hashes["xxhash64"])
	}
	if hashes["blake3"] != "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262" {
		t.Errorf("blake3 mismatch: %s", hashes["blake3"])
	}
}

func TestHashReaderReadError(t *testing.T) {
	logger.Init("info")
	r := iotest.ErrReader(errors.New("stream vanished"))
	hashes := HashReader(r, 0, "broken", []string{"sha256"})
	if len(hashes) != 0 {
		t.Fatalf("expected no hashes after a read error, got %v", hashes)
	}
}
