package share

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ThreatPolicy selects what happens to a payload classified as malicious.
type ThreatPolicy string

const (
	ThreatBlock ThreatPolicy = "block" // remove the payload and fail the upload
	ThreatWarn  ThreatPolicy = "warn"  // create the share, require confirmation to download
)

// ClassifierFallback selects what happens when the classifier cannot reach a verdict.
type ClassifierFallback string

const (
	FallbackReject ClassifierFallback = "reject" // fail the upload
	FallbackAllow  ClassifierFallback = "allow"  // accept the payload unscanned and log it
)

// Options configures optional registry behavior.
type Options struct {
	Classifier   Classifier // nil disables classification
	ThreatPolicy ThreatPolicy
	Fallback     ClassifierFallback

	// CountAborted makes a transfer that failed after its first byte count
	// as a download. Without it a client could abort transfers to keep a
	// share alive past its download limit.
	CountAborted bool
}

// maxCodeAttempts bounds code regeneration on collision.
const maxCodeAttempts = 8

// Registry owns share records: code issuance, access evaluation, and the
// retirement of records after downloads. It is safe for concurrent use.
type Registry struct {
	store    Store
	payloads PayloadStore
	gate     *Gate
	logger   Logger
	clock    Clock
	codes    CodeGenerator
	secrets  SecretHasher
	auditor  Auditor
	opts     Options
	locks    *codeLocks

	mu       sync.Mutex
	inflight map[string]int // code -> transfers opened but not finished
}

// NewRegistry creates a Registry with the provided dependencies.
func NewRegistry(store Store, payloads PayloadStore, secrets SecretHasher, logger Logger, clock Clock, codes CodeGenerator, opts Options) *Registry {
	if logger == nil {
		logger = NewNopLogger()
	}
	if opts.ThreatPolicy == "" {
		opts.ThreatPolicy = ThreatBlock
	}
	if opts.Fallback == "" {
		opts.Fallback = FallbackReject
	}
	auditor, _ := store.(Auditor)
	return &Registry{
		store:    store,
		payloads: payloads,
		gate:     NewGate(secrets),
		logger:   logger,
		clock:    clock,
		codes:    codes,
		secrets:  secrets,
		auditor:  auditor,
		opts:     opts,
		locks:    newCodeLocks(),
		inflight: make(map[string]int),
	}
}

// CreateResult reports the outcome of creating one share of a batch.
type CreateResult struct {
	Name string // upload file name, empty for CreateBatch
	Ref  PayloadRef
	Code string
	Err  error
}

// Create issues a new code for a payload already placed in the payload store.
func (r *Registry) Create(ctx context.Context, ref PayloadRef, policy Policy) (string, error) {
	results, err := r.CreateBatch(ctx, []PayloadRef{ref}, policy)
	if err != nil {
		return "", err
	}
	return results[0].Code, results[0].Err
}

// CreateBatch issues one independent code per payload. The policy is
// computed once and copied into every record; a failure for one payload
// does not prevent the others from being created. The returned error is
// non-nil only when the policy itself is unusable.
func (r *Registry) CreateBatch(ctx context.Context, refs []PayloadRef, policy Policy) ([]CreateResult, error) {
	tmpl, err := r.prepare(policy)
	if err != nil {
		return nil, err
	}

	results := make([]CreateResult, len(refs))
	for i, ref := range refs {
		code, err := r.createOne(ctx, tmpl, ref)
		results[i] = CreateResult{Ref: ref, Code: code, Err: err}
	}
	return results, nil
}

func (r *Registry) prepare(policy Policy) (*template, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return newTemplate(policy, r.clock.Now(), r.secrets)
}

func (r *Registry) createOne(ctx context.Context, tmpl *template, ref PayloadRef) (string, error) {
	verdict, err := r.classify(ctx, ref)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		rec := tmpl.record(r.codes.New(), ref)
		rec.Flagged = verdict.Malicious
		rec.Threat = verdict.Threat

		err := r.store.Insert(ctx, rec)
		if errors.Is(err, ErrCodeTaken) {
			r.logger.Warn("code collision, regenerating", "code", rec.Code)
			continue
		}
		if err != nil {
			r.logger.Error("persisting share failed", "stored_name", ref.StoredName, "error", err)
			return "", fmt.Errorf("persisting share: %w", err)
		}

		r.audit(ctx, rec.Code, EventCreated, ref.StoredName)
		r.logger.Info("share created", "code", rec.Code, "stored_name", ref.StoredName, "flagged", rec.Flagged)
		return rec.Code, nil
	}
	return "", fmt.Errorf("generating unique code after %d attempts: %w", maxCodeAttempts, ErrCodeTaken)
}

// classify runs the configured classifier and applies the threat and
// fallback policies. Payloads refused here are removed from the payload store.
func (r *Registry) classify(ctx context.Context, ref PayloadRef) (Classification, error) {
	if r.opts.Classifier == nil {
		return Classification{}, nil
	}

	rc, err := r.payloads.Open(ctx, ref.StoredName)
	if err != nil {
		return Classification{}, fmt.Errorf("opening payload for classification: %w", err)
	}
	c, err := r.opts.Classifier.Classify(ctx, ref.StoredName, rc)
	rc.Close()

	if err != nil {
		if r.opts.Fallback == FallbackAllow {
			r.logger.Warn("classifier unavailable, accepting payload unscanned", "stored_name", ref.StoredName, "error", err)
			return Classification{}, nil
		}
		r.logger.Error("classifier unavailable, rejecting upload", "stored_name", ref.StoredName, "error", err)
		r.removePayload(ctx, "", ref.StoredName)
		if !errors.Is(err, ErrClassifierUnavailable) {
			err = fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
		}
		return Classification{}, err
	}

	if !c.Malicious {
		return c, nil
	}
	if r.opts.ThreatPolicy == ThreatWarn {
		r.logger.Warn("payload classified malicious, share will require confirmation", "stored_name", ref.StoredName, "threat", c.Threat)
		return c, nil
	}

	r.logger.Warn("payload classified malicious, rejecting upload", "stored_name", ref.StoredName, "threat", c.Threat)
	r.removePayload(ctx, "", ref.StoredName)
	r.audit(ctx, "", EventRejected, ref.StoredName+": "+c.Threat)
	return c, fmt.Errorf("%w: %s", ErrRejectedPayload, c.Threat)
}

// Get returns the persisted record for code. It has no side effects.
func (r *Registry) Get(ctx context.Context, code string) (*Record, error) {
	return r.store.Get(ctx, code)
}

// Inspect returns the record for code with its derived status. A record
// whose payload is missing from storage is reported as StatusDeleted.
func (r *Registry) Inspect(ctx context.Context, code string) (*Record, Status, error) {
	rec, err := r.store.Get(ctx, code)
	if err != nil {
		return nil, "", err
	}
	present, err := r.payloads.Exists(ctx, rec.StoredName)
	if err != nil {
		return nil, "", fmt.Errorf("checking payload: %w", err)
	}
	if !present {
		return rec, StatusDeleted, nil
	}
	return rec, rec.StatusAt(r.clock.Now()), nil
}

// List returns all live records.
func (r *Registry) List(ctx context.Context) ([]*Record, error) {
	return r.store.List(ctx)
}

// Resolution is what a successful gate evaluation hands to the transport.
type Resolution struct {
	Code        string
	StoredName  string
	Name        string
	ContentType string
	Size        int64
}

func resolutionOf(rec *Record) Resolution {
	return Resolution{
		Code:        rec.Code,
		StoredName:  rec.StoredName,
		Name:        rec.Name(),
		ContentType: rec.ContentType,
		Size:        rec.Size,
	}
}

// Probe evaluates the gate for code without transferring or mutating anything.
func (r *Registry) Probe(ctx context.Context, code, password string) (Verdict, error) {
	return r.evaluate(ctx, code, password, false)
}

// Resolve evaluates the gate for code and returns the payload reference and
// display name on success. Denials are returned as *DenialError.
func (r *Registry) Resolve(ctx context.Context, code, password string) (*Resolution, error) {
	return r.resolve(ctx, code, password, false)
}

// Confirm is Resolve for a caller that acknowledged the malicious-file
// warning. It bypasses only the confirmation check.
func (r *Registry) Confirm(ctx context.Context, code, password string) (*Resolution, error) {
	return r.resolve(ctx, code, password, true)
}

func (r *Registry) resolve(ctx context.Context, code, password string, confirmed bool) (*Resolution, error) {
	v, err := r.evaluate(ctx, code, password, confirmed)
	if err != nil {
		return nil, err
	}
	if !v.Allowed() {
		return nil, v.Err()
	}
	res := resolutionOf(v.Record)
	return &res, nil
}

func (r *Registry) evaluate(ctx context.Context, code, password string, confirmed bool) (Verdict, error) {
	req := Request{
		Password:  password,
		Now:       r.clock.Now(),
		Confirmed: confirmed,
		Inflight:  r.inflightCount(code),
	}

	rec, err := r.store.Get(ctx, code)
	if errors.Is(err, ErrNotFound) {
		v := r.gate.Evaluate(code, nil, false, req)
		r.logVerdict(v)
		return v, nil
	}
	if err != nil {
		return Verdict{}, fmt.Errorf("loading share: %w", err)
	}

	present, err := r.payloads.Exists(ctx, rec.StoredName)
	if err != nil {
		return Verdict{}, fmt.Errorf("checking payload: %w", err)
	}

	v := r.gate.Evaluate(code, rec, present, req)
	r.logVerdict(v)
	return v, nil
}

func (r *Registry) logVerdict(v Verdict) {
	switch v.Reason {
	case ReasonAllow:
		r.logger.Debug("access allowed", "code", v.Code)
	case ReasonGone:
		r.logger.Warn("payload missing for share", "code", v.Code, "stored_name", v.Record.StoredName)
	default:
		r.logger.Info("access denied", "code", v.Code, "reason", v.Reason.String())
	}
}

// Open evaluates the gate and, on allow, reserves a download slot and opens
// the payload. The caller streams the Transfer and must call Finish exactly
// once. While a transfer is open it counts against the download limit, so
// a concurrent Open for the last slot is denied with ReasonLimitReached.
func (r *Registry) Open(ctx context.Context, code, password string, confirmed bool) (*Transfer, error) {
	unlock := r.locks.lock(code)
	defer unlock()

	v, err := r.evaluate(ctx, code, password, confirmed)
	if err != nil {
		return nil, err
	}
	if !v.Allowed() {
		r.audit(ctx, code, EventDenied, v.Reason.String())
		return nil, v.Err()
	}

	body, err := r.payloads.Open(ctx, v.Record.StoredName)
	if errors.Is(err, ErrPayloadMissing) {
		v.Reason = ReasonGone
		r.logVerdict(v)
		return nil, v.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("opening payload: %w", err)
	}

	r.reserve(code)
	return newTransfer(r, resolutionOf(v.Record), body), nil
}

// Retirement reports the outcome of the retirement protocol for one download.
type Retirement struct {
	Code    string
	Record  *Record // state after the increment; nil for a no-op
	Retired bool    // the record reached its limit and was deleted
	NoOp    bool    // the record no longer existed, or the transfer was not counted
}

// ApplyDownloadSuccess records one completed download of code. If the
// download limit is reached the record is deleted along with its payload.
// It is a no-op if the record has already been deleted.
func (r *Registry) ApplyDownloadSuccess(ctx context.Context, code string) (*Retirement, error) {
	unlock := r.locks.lock(code)
	defer unlock()
	return r.retire(ctx, code)
}

// finishTransfer releases the transfer's reservation and, when counted,
// applies the retirement protocol under the same code lock.
func (r *Registry) finishTransfer(ctx context.Context, code string, counted bool) (*Retirement, error) {
	unlock := r.locks.lock(code)
	defer unlock()
	defer r.release(code)

	if !counted {
		r.logger.Info("transfer aborted before completion, not counted", "code", code)
		return &Retirement{Code: code, NoOp: true}, nil
	}
	return r.retire(ctx, code)
}

// retire must be called with the code lock held.
func (r *Registry) retire(ctx context.Context, code string) (*Retirement, error) {
	rec, err := r.store.Update(ctx, code, func(rec *Record) error {
		if !rec.LimitReached() {
			rec.DownloadCount++
		}
		if rec.LimitReached() {
			rec.Deleted = true
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		r.logger.Debug("share already retired, nothing to record", "code", code)
		return &Retirement{Code: code, NoOp: true}, nil
	}
	if err != nil {
		r.logger.Error("recording download failed", "code", code, "error", err)
		return nil, fmt.Errorf("recording download: %w", err)
	}

	r.audit(ctx, code, EventDownloaded, strconv.Itoa(rec.DownloadCount))
	if rec.Deleted {
		r.removePayload(ctx, code, rec.StoredName)
		r.audit(ctx, code, EventRetired, "download limit reached")
		r.logger.Info("share retired", "code", code, "downloads", rec.DownloadCount)
	} else {
		r.logger.Info("download recorded", "code", code, "downloads", rec.DownloadCount)
	}
	return &Retirement{Code: code, Record: rec, Retired: rec.Deleted}, nil
}

// Delete removes the record for code and its payload. The code becomes
// permanently invalid. Returns ErrNotFound if the code is unknown.
func (r *Registry) Delete(ctx context.Context, code string) error {
	unlock := r.locks.lock(code)
	defer unlock()

	rec, err := r.store.Update(ctx, code, func(rec *Record) error {
		rec.Deleted = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting share %s: %w", code, err)
	}

	r.removePayload(ctx, code, rec.StoredName)
	r.audit(ctx, code, EventDeleted, rec.StoredName)
	r.logger.Info("share deleted", "code", code)
	return nil
}

// Sweep deletes every record that has expired or whose payload has
// disappeared. Returns the number of records deleted.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	recs, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing shares: %w", err)
	}

	now := r.clock.Now()
	count := 0
	for _, rec := range recs {
		present, err := r.payloads.Exists(ctx, rec.StoredName)
		if err != nil {
			return count, fmt.Errorf("checking payload for %s: %w", rec.Code, err)
		}
		if present && !rec.Expired(now) {
			continue
		}
		if err := r.Delete(ctx, rec.Code); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return count, err
		}
		count++
	}

	r.logger.Info("sweep complete", "deleted", count)
	return count, nil
}

// History returns the most recent audit events, newest first.
func (r *Registry) History(ctx context.Context, limit int) ([]*Event, error) {
	if r.auditor == nil {
		return nil, fmt.Errorf("share store does not keep an audit trail")
	}
	return r.auditor.ListEvents(ctx, limit)
}

func (r *Registry) removePayload(ctx context.Context, code, storedName string) {
	if err := r.payloads.Remove(ctx, storedName); err != nil {
		r.logger.Error("removing payload failed, payload orphaned", "code", code, "stored_name", storedName, "error", err)
	}
}

func (r *Registry) audit(ctx context.Context, code, kind, detail string) {
	if r.auditor == nil {
		return
	}
	ev := &Event{Code: code, Kind: kind, Detail: detail, At: r.clock.Now()}
	if err := r.auditor.RecordEvent(ctx, ev); err != nil {
		r.logger.Warn("recording audit event failed", "code", code, "kind", kind, "error", err)
	}
}

func (r *Registry) inflightCount(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight[code]
}

func (r *Registry) reserve(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight[code]++
}

func (r *Registry) release(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[code] <= 1 {
		delete(r.inflight, code)
		return
	}
	r.inflight[code]--
}
