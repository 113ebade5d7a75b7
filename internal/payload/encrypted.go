package payload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"share-go/internal/share"
)

// ErrLocked is returned by EncryptedStore.Open before Unlock has been called.
var ErrLocked = errors.New("payload store is locked")

// EncryptedStore encrypts payloads before handing them to another store and
// decrypts them on the way out. Writing needs only the public key; reading
// needs the store to be unlocked with the key passphrase.
type EncryptedStore struct {
	inner share.PayloadStore
	enc   share.Encryptor

	mu  sync.RWMutex
	dec share.DecryptionContext
}

func NewEncryptedStore(inner share.PayloadStore, enc share.Encryptor) *EncryptedStore {
	return &EncryptedStore{inner: inner, enc: enc}
}

// Unlock decrypts the private key so payloads can be read.
func (s *EncryptedStore) Unlock(passphrase string) error {
	dec, err := s.enc.Unlock(passphrase)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.dec = dec
	s.mu.Unlock()
	return nil
}

// Unlocked reports whether payloads can be read.
func (s *EncryptedStore) Unlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dec != nil
}

// Put streams r through the encryptor into the inner store. The returned
// size is the plaintext size.
func (s *EncryptedStore) Put(ctx context.Context, name string, r io.Reader) (string, int64, error) {
	plain := &countingReader{r: r}
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := s.enc.Encrypt(plain, pw)
		pw.CloseWithError(err)
		done <- err
	}()

	storedName, _, err := s.inner.Put(ctx, name, pr)
	pr.CloseWithError(io.ErrClosedPipe) // unblocks the encryptor if inner stopped reading
	encErr := <-done

	if err != nil {
		return "", 0, err
	}
	if encErr != nil {
		s.inner.Remove(ctx, storedName)
		return "", 0, fmt.Errorf("encrypting payload: %w", encErr)
	}
	return storedName, plain.n, nil
}

// Open returns a reader yielding the decrypted payload.
func (s *EncryptedStore) Open(ctx context.Context, storedName string) (io.ReadCloser, error) {
	s.mu.RLock()
	dec := s.dec
	s.mu.RUnlock()
	if dec == nil {
		return nil, ErrLocked
	}

	rc, err := s.inner.Open(ctx, storedName)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		err := dec.Decrypt(rc, pw)
		rc.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func (s *EncryptedStore) Exists(ctx context.Context, storedName string) (bool, error) {
	return s.inner.Exists(ctx, storedName)
}

func (s *EncryptedStore) Remove(ctx context.Context, storedName string) error {
	return s.inner.Remove(ctx, storedName)
}

func (s *EncryptedStore) ValidateSetup(ctx context.Context) error {
	if !s.enc.IsConfigured() {
		return fmt.Errorf("encryption keys not configured (run: share config keys)")
	}
	return s.inner.ValidateSetup(ctx)
}

var _ share.PayloadStore = (*EncryptedStore)(nil)
