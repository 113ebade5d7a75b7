package classify

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"

	"share-go/internal/share"
)

// BlocklistClassifier flags payloads whose SHA-256 digest appears in a list
// of known-bad hashes. It never fails on its own; only reading the payload can.
type BlocklistClassifier struct {
	threats map[string]string // hex digest -> threat name
}

var _ share.Classifier = (*BlocklistClassifier)(nil)

// LoadBlocklist reads a blocklist file from fsys.
func LoadBlocklist(fsys afero.Fs, path string) (*BlocklistClassifier, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening blocklist: %w", err)
	}
	defer f.Close()

	c, err := ParseBlocklist(f)
	if err != nil {
		return nil, fmt.Errorf("reading blocklist %s: %w", path, err)
	}
	return c, nil
}

// ParseBlocklist parses one entry per line: a hex SHA-256 digest optionally
// followed by whitespace and a threat name. Blank lines and lines starting
// with '#' are ignored.
func ParseBlocklist(r io.Reader) (*BlocklistClassifier, error) {
	c := &BlocklistClassifier{threats: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		digest, threat, _ := strings.Cut(line, " ")
		digest = strings.ToLower(digest)
		if raw, err := hex.DecodeString(digest); err != nil || len(raw) != sha256.Size {
			return nil, fmt.Errorf("line %d: invalid sha256 digest %q", lineNo, digest)
		}

		threat = strings.TrimSpace(threat)
		if threat == "" {
			threat = "blocklisted"
		}
		c.threats[digest] = threat
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// Len returns the number of blocklisted digests.
func (c *BlocklistClassifier) Len() int {
	return len(c.threats)
}

func (c *BlocklistClassifier) Classify(ctx context.Context, name string, r io.Reader) (share.Classification, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return share.Classification{}, fmt.Errorf("hashing payload: %w", err)
	}
	digest := hex.EncodeToString(h.Sum(nil))

	if threat, ok := c.threats[digest]; ok {
		return share.Classification{Malicious: true, Threat: threat}, nil
	}
	return share.Classification{}, nil
}
