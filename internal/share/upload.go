package share

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen is how many leading bytes are inspected to detect the content type.
const sniffLen = 3072

// UploadFile is one file of an upload request.
type UploadFile struct {
	Name string
	Body io.Reader
}

// Upload places each file in the payload store and creates a share for it.
// The policy is computed once for the whole batch. A file that fails to
// store, classify, or persist is reported in its result and has its payload
// removed; the other files are unaffected.
func (r *Registry) Upload(ctx context.Context, files []UploadFile, policy Policy) ([]CreateResult, error) {
	tmpl, err := r.prepare(policy)
	if err != nil {
		return nil, err
	}

	results := make([]CreateResult, len(files))
	for i, f := range files {
		results[i].Name = f.Name

		ref, err := r.place(ctx, f)
		if err != nil {
			r.logger.Error("storing upload failed", "name", f.Name, "error", err)
			results[i].Err = err
			continue
		}
		results[i].Ref = ref

		code, err := r.createOne(ctx, tmpl, ref)
		if err != nil {
			r.removePayload(ctx, "", ref.StoredName)
			results[i].Err = err
			continue
		}
		results[i].Code = code
	}
	return results, nil
}

func (r *Registry) place(ctx context.Context, f UploadFile) (PayloadRef, error) {
	br := bufio.NewReaderSize(f.Body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return PayloadRef{}, fmt.Errorf("reading upload %s: %w", f.Name, err)
	}
	contentType := mimetype.Detect(head).String()

	storedName, size, err := r.payloads.Put(ctx, f.Name, br)
	if err != nil {
		return PayloadRef{}, fmt.Errorf("storing payload %s: %w", f.Name, err)
	}

	r.logger.Debug("payload stored", "name", f.Name, "stored_name", storedName, "size", size, "content_type", contentType)
	return PayloadRef{StoredName: storedName, ContentType: contentType, Size: size}, nil
}
