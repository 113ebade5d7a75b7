package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"share-go/internal/share"
)

// HTTPScanner submits payloads to an external scanning service as a
// multipart form ("file" field) and expects a JSON verdict:
//
//	{"malicious": true, "threat": "EICAR-Test-File"}
//
// Transport failures, non-2xx responses, and undecodable bodies are reported
// as share.ErrClassifierUnavailable.
type HTTPScanner struct {
	url    string
	client *http.Client
}

var _ share.Classifier = (*HTTPScanner)(nil)

func NewHTTPScanner(url string, timeout time.Duration) *HTTPScanner {
	return &HTTPScanner{url: url, client: &http.Client{Timeout: timeout}}
}

type scanResponse struct {
	Malicious bool   `json:"malicious"`
	Threat    string `json:"threat"`
}

func (s *HTTPScanner) Classify(ctx context.Context, name string, r io.Reader) (share.Classification, error) {
	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		fw, err := mw.CreateFormFile("file", filepath.Base(name))
		if err == nil {
			_, err = io.Copy(fw, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, pr)
	if err != nil {
		return share.Classification{}, fmt.Errorf("%w: creating request: %v", share.ErrClassifierUnavailable, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return share.Classification{}, fmt.Errorf("%w: %v", share.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return share.Classification{}, fmt.Errorf("%w: scanner returned %s", share.ErrClassifierUnavailable, resp.Status)
	}

	var out scanResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return share.Classification{}, fmt.Errorf("%w: decoding verdict: %v", share.ErrClassifierUnavailable, err)
	}
	return share.Classification{Malicious: out.Malicious, Threat: out.Threat}, nil
}
