package share

import (
	"context"
	"io"
)

// PayloadStore holds the file contents referenced by share records.
// All operations stream through io.Reader so large files are never held in memory.
type PayloadStore interface {
	// Put stores the content read from r under a fresh stored name derived
	// from name, and returns the stored name and number of bytes written.
	Put(ctx context.Context, name string, r io.Reader) (storedName string, size int64, err error)

	// Open returns a reader for a stored payload. It returns ErrPayloadMissing
	// if the payload does not exist.
	Open(ctx context.Context, storedName string) (io.ReadCloser, error)

	// Exists reports whether a stored payload is present.
	Exists(ctx context.Context, storedName string) (bool, error)

	// Remove deletes a stored payload. Removing a missing payload is not an error.
	Remove(ctx context.Context, storedName string) error

	// ValidateSetup verifies that the store is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}

// Encryptor encrypts payloads at rest. Encryption needs only the public key;
// decryption needs the private key unlocked with a passphrase.
type Encryptor interface {
	// Setup performs one-time key generation, storing the private key
	// encrypted with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext for
	// the lifetime of the process.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Classification is a threat classifier's verdict on a payload.
type Classification struct {
	Malicious bool
	Threat    string
}

// Classifier inspects a payload at upload time. An error means the
// classifier could not reach a verdict; it never means "clean".
type Classifier interface {
	Classify(ctx context.Context, name string, r io.Reader) (Classification, error)
}

// SecretHasher turns share passwords into stored secrets and verifies
// supplied passwords against them.
type SecretHasher interface {
	Hash(password string) (string, error)
	Verify(secret, supplied string) bool
}
