package encryption

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"share-go/internal/share"
)

// maskedMagic starts every payload written by TestEncryptor.
var maskedMagic = []byte("SHARE-MASKED\n")

var maskKey = []byte("share-go payload mask")

// TestEncryptor stands in for AgeEncryptor when real keys are unwanted, as
// with the "test" encryption type. Payloads are XOR-masked with a fixed key,
// so no stored byte range equals the upload. Once Setup has set a
// passphrase, Unlock requires it.
type TestEncryptor struct {
	mu         sync.Mutex
	passphrase string
}

var _ share.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.passphrase != "" {
		return ErrKeysExist
	}
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(maskedMagic); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.Copy(&maskWriter{w: w}, r); err != nil {
		return fmt.Errorf("masking payload: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (share.DecryptionContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return testDecrypter{}, nil
}

// IsConfigured is always true; the mask key is built in.
func (e *TestEncryptor) IsConfigured() bool {
	return true
}

type testDecrypter struct{}

func (testDecrypter) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(maskedMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, maskedMagic) {
		return fmt.Errorf("payload was not written by the test encryptor")
	}
	if _, err := io.Copy(&maskWriter{w: w}, r); err != nil {
		return fmt.Errorf("unmasking payload: %w", err)
	}
	return nil
}

// maskWriter XORs everything written through it with maskKey, keyed by the
// stream offset. Applying it twice restores the input.
type maskWriter struct {
	w   io.Writer
	off int
	buf []byte
}

func (m *maskWriter) Write(p []byte) (int, error) {
	if cap(m.buf) < len(p) {
		m.buf = make([]byte, len(p))
	}
	out := m.buf[:len(p)]
	for i, b := range p {
		out[i] = b ^ maskKey[(m.off+i)%len(maskKey)]
	}
	n, err := m.w.Write(out)
	m.off += n
	return n, err
}
