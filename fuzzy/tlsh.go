package fuzzy

import (
	"bufio"
	"io"

	"github.com/glaslos/tlsh"
)

// TLSHHasher computes Trend Micro locality sensitive hashes. Inputs shorter
// than the algorithm minimum return an error.
type TLSHHasher struct{}

func (h TLSHHasher) Name() string {
	return "tlsh"
}

func (h TLSHHasher) HashReader(r io.Reader) (string, error) {
	hash, err := tlsh.HashReader(bufio.NewReader(r))
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func init() {
	Register(TLSHHasher{})
}
