// Package core implements the file lifecycle of the metadata pipeline:
// generation and import, validation, shipping, receipt, batch renaming and
// deletion, each as one transaction over the persistent store.
package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"ptxmeta/internal/blob"
	"ptxmeta/internal/catalog"
	"ptxmeta/internal/generator"
	"ptxmeta/internal/infra/persistence/memory"
	"ptxmeta/internal/spreadsheet"
	"ptxmeta/internal/validation"
	"ptxmeta/pkg/domain"
)

// Operation names used for logs, metrics, spans and audit entries.
const (
	OpGenerateFile   = "generate_file"
	OpImportFile     = "import_file"
	OpValidateFile   = "validate_file"
	OpValidateBlob   = "validate_blob"
	OpShipFile       = "ship_file"
	OpReceiveFile    = "receive_file"
	OpRenameBatch    = "rename_batch"
	OpDeleteFile     = "delete_file"
	OpGetFile        = "get_file"
	OpListFiles      = "list_files"
	OpListSamples    = "list_samples"
	OpBatchAvailable = "batch_available"
	OpDownloadFile   = "download_file"
	OpDownloadURL    = "download_url"
)

type operationMeta struct {
	entity domain.EntityType
	action domain.Action
}

var auditedOperations = map[string]operationMeta{
	OpGenerateFile: {domain.EntityFile, domain.ActionCreate},
	OpImportFile:   {domain.EntityFile, domain.ActionCreate},
	OpValidateFile: {domain.EntityFile, domain.ActionUpdate},
	OpShipFile:     {domain.EntityFile, domain.ActionUpdate},
	OpReceiveFile:  {domain.EntityFile, domain.ActionUpdate},
	OpRenameBatch:  {domain.EntityFile, domain.ActionUpdate},
	OpDeleteFile:   {domain.EntityFile, domain.ActionDelete},
}

// Service exposes the file lifecycle operations.
type Service struct {
	store     PersistentStore
	blobs     blob.Store
	catalog   catalog.Catalog
	generator *generator.Generator
	validator *validation.Validator
	rewriter  *BatchRewriter

	logger   Logger
	clock    Clock
	metrics  MetricsRecorder
	tracer   Tracer
	audit    AuditRecorder
	notifier Notifier
	identity Identity
	locker   FileLocker
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used for shipping and receipt timestamps.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAuditRecorder sets the audit recorder.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithNotifier sets the notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithIdentity sets how the caller is resolved. The default reads it from the context.
func WithIdentity(i Identity) Option {
	return func(s *Service) {
		if i != nil {
			s.identity = i
		}
	}
}

// WithLocker sets the per-file lock. The default is an in-process KeyedMutex.
func WithLocker(l FileLocker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithValidator replaces the default validator.
func WithValidator(v *validation.Validator) Option {
	return func(s *Service) {
		if v != nil {
			s.validator = v
		}
	}
}

// NewService constructs a service over store, blobs and cat.
func NewService(store PersistentStore, blobs blob.Store, cat catalog.Catalog, opts ...Option) *Service {
	s := &Service{
		store:     store,
		blobs:     blobs,
		catalog:   cat,
		generator: generator.New(cat),
		validator: validation.Default(cat),
		rewriter:  NewBatchRewriter(blobs),
		logger:    noopLogger{},
		clock:     systemClock{},
		metrics:   noopMetricsRecorder{},
		tracer:    noopTracer{},
		audit:     noopAuditRecorder{},
		notifier:  noopNotifier{},
		identity:  ContextIdentity{},
		locker:    NewKeyedMutex(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewInMemoryService seeds an in-memory store and blob store and returns a
// service over them.
func NewInMemoryService(ctx context.Context, seed catalog.Seed, opts ...Option) (*Service, error) {
	store := memory.NewStore(NewDefaultRulesEngine())
	if err := catalog.Bootstrap(ctx, store, seed); err != nil {
		return nil, err
	}
	return NewService(store, blob.NewMemory(), catalog.Load(ctx, store), opts...), nil
}

// Store returns the persistent store.
func (s *Service) Store() PersistentStore { return s.store }

// Blobs returns the blob store.
func (s *Service) Blobs() blob.Store { return s.blobs }

// Catalog returns the catalog.
func (s *Service) Catalog() catalog.Catalog { return s.catalog }

// GenerateFile expands req into a workbook, uploads it and records a draft file.
// Request warnings are logged and carried by the generated event.
func (s *Service) GenerateFile(ctx context.Context, req generator.Request) (domain.File, error) {
	var created domain.File
	err := s.run(ctx, OpGenerateFile, func(ctx context.Context) (string, error) {
		user, err := s.authorize(ctx, RoleUser)
		if err != nil {
			return "", err
		}
		wb, err := s.generator.Generate(ctx, req)
		if err != nil {
			return "", err
		}
		warnings := req.Warnings()
		for _, w := range warnings {
			s.logger.Warn("request warning", "op", OpGenerateFile, "field", w.Field, "message", w.Message)
		}
		org, err := s.catalog.Organisation(ctx, req.Partner)
		if err != nil {
			return "", err
		}
		data, err := spreadsheet.Marshal(wb)
		if err != nil {
			return "", fmt.Errorf("encode workbook: %w", err)
		}
		record := recordFromWorkbook(wb)
		record.Name = req.FileName()
		record.AuthorID = user.ID
		created, err = s.createFile(ctx, OpGenerateFile, blobKey(org.BlobFolderID, record.Name), data, record)
		if err != nil {
			return "", err
		}
		payload := map[string]any{"rows": len(wb.Exposure)}
		if len(warnings) > 0 {
			payload["warnings"] = warnings
		}
		s.notify(ctx, EventFileGenerated, user, created, payload)
		return created.ID, nil
	})
	return created, err
}

// ImportFile records an externally produced workbook as a draft file. The
// header must name a known partner and organism and a well formed batch.
func (s *Service) ImportFile(ctx context.Context, name string, data []byte) (domain.File, error) {
	var created domain.File
	err := s.run(ctx, OpImportFile, func(ctx context.Context) (string, error) {
		user, err := s.authorize(ctx, RoleUser)
		if err != nil {
			return "", err
		}
		wb, err := spreadsheet.Unmarshal(data)
		if err != nil {
			var parseErr *spreadsheet.ParseError
			if errors.As(err, &parseErr) {
				return "", domain.NewInputError(domain.ErrInvalidRequest, domain.FieldError{
					Label: validation.LabelFile, Field: parseErr.Sheet, Message: parseErr.Error(),
				})
			}
			return "", err
		}
		org, err := s.checkImportHeader(ctx, wb.General)
		if err != nil {
			return "", err
		}
		record := recordFromWorkbook(wb)
		record.Name = importName(name, record)
		record.AuthorID = user.ID
		created, err = s.createFile(ctx, OpImportFile, blobKey(org.BlobFolderID, record.Name), data, record)
		if err != nil {
			return "", err
		}
		s.notify(ctx, EventFileImported, user, created, map[string]any{"rows": len(wb.Exposure)})
		return created.ID, nil
	})
	return created, err
}

// ValidateFile validates the stored workbook of a file and records the
// outcome. A shipped file is validated without recording; a received file
// cannot be validated.
func (s *Service) ValidateFile(ctx context.Context, id string) (validation.Report, error) {
	var report validation.Report
	err := s.run(ctx, OpValidateFile, func(ctx context.Context) (string, error) {
		user, err := s.authorize(ctx, RoleUser)
		if err != nil {
			return id, err
		}
		unlock, err := s.locker.Lock(ctx, lockKey(id))
		if err != nil {
			return id, err
		}
		defer unlock()

		f, err := s.file(id)
		if err != nil {
			return id, err
		}
		if f.Received() {
			return id, fmt.Errorf("%w: file %s is received", domain.ErrIllegalTransition, id)
		}
		report, _, err = s.validator.ValidateSource(ctx, validation.BlobSource{Store: s.blobs, Key: f.BlobID})
		if err != nil {
			return id, err
		}
		if f.ShippedAt != nil {
			return id, nil
		}
		event, outcome := domain.EventValidationFailed, domain.ValidationFailed
		if report.Valid {
			event, outcome = domain.EventValidationPassed, domain.ValidationSuccess
		}
		var updated domain.File
		if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateFile(id, func(cur *domain.File) error {
				next, err := domain.NextState(cur.State, event)
				if err != nil {
					return err
				}
				cur.Validated = outcome
				cur.State = next
				return nil
			})
			return err
		}); err != nil {
			return id, err
		}
		s.notify(ctx, EventFileValidated, user, updated, map[string]any{"valid": report.Valid, "errors": len(report.Errors)})
		return id, nil
	})
	return report, err
}

// ValidateBlob validates a workbook stored under key without recording anything.
func (s *Service) ValidateBlob(ctx context.Context, key string) (validation.Report, error) {
	var report validation.Report
	err := s.run(ctx, OpValidateBlob, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, RoleUser); err != nil {
			return "", err
		}
		var err error
		report, _, err = s.validator.ValidateSource(ctx, validation.BlobSource{Store: s.blobs, Key: key})
		return "", err
	})
	return report, err
}

// ShipFile marks a validated file as shipped and locks its blob. A failure to
// lock the blob is logged and does not fail the operation.
func (s *Service) ShipFile(ctx context.Context, id string) (domain.File, error) {
	var shipped domain.File
	err := s.run(ctx, OpShipFile, func(ctx context.Context) (string, error) {
		user, err := s.authorize(ctx, RoleUser)
		if err != nil {
			return id, err
		}
		unlock, err := s.locker.Lock(ctx, lockKey(id))
		if err != nil {
			return id, err
		}
		defer unlock()

		now := s.clock.Now().UTC()
		if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			cur, ok := tx.FindFile(id)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityFile, ID: id}
			}
			next, err := domain.NextState(cur.State, domain.EventShip)
			if err != nil {
				return err
			}
			if err := checkClaim(tx.Snapshot().ListFiles(), cur.Organism, cur.Batch, cur.ID); err != nil {
				return err
			}
			shipped, err = tx.UpdateFile(id, func(f *domain.File) error {
				f.ShippedAt = &now
				f.State = next
				return nil
			})
			return err
		}); err != nil {
			return id, err
		}
		s.lockBlob(ctx, shipped)
		s.notify(ctx, EventFileShipped, user, shipped, nil)
		return id, nil
	})
	return shipped, err
}

// ReceiveFile marks a shipped file as received and materializes one sample
// per exposure row, each carrying the row as it was stored.
func (s *Service) ReceiveFile(ctx context.Context, id string) (domain.File, error) {
	var received domain.File
	err := s.run(ctx, OpReceiveFile, func(ctx context.Context) (string, error) {
		user, err := s.authorize(ctx, RoleUser)
		if err != nil {
			return id, err
		}
		unlock, err := s.locker.Lock(ctx, lockKey(id))
		if err != nil {
			return id, err
		}
		defer unlock()

		f, err := s.file(id)
		if err != nil {
			return id, err
		}
		if _, err := domain.NextState(f.State, domain.EventReceive); err != nil {
			return id, err
		}
		wb, err := loadWorkbook(ctx, s.blobs, f.BlobID)
		if err != nil {
			return id, err
		}
		samples, err := samplesFromWorkbook(id, wb)
		if err != nil {
			return id, err
		}

		now := s.clock.Now().UTC()
		if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			cur, ok := tx.FindFile(id)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityFile, ID: id}
			}
			next, err := domain.NextState(cur.State, domain.EventReceive)
			if err != nil {
				return err
			}
			if err := checkClaim(tx.Snapshot().ListFiles(), cur.Organism, cur.Batch, cur.ID); err != nil {
				return err
			}
			received, err = tx.UpdateFile(id, func(f *domain.File) error {
				f.ReceivedAt = &now
				f.State = next
				return nil
			})
			if err != nil {
				return err
			}
			for _, sample := range samples {
				if _, err := tx.CreateSample(sample); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return id, err
		}
		s.notify(ctx, EventFileReceived, user, received, map[string]any{"samples": len(samples)})
		return id, nil
	})
	return received, err
}

// RenameBatch rebinds an unshipped file to newBatch. The rewritten workbook is
// uploaded under a fresh key before the record changes; the superseded blob is
// removed only after the commit.
func (s *Service) RenameBatch(ctx context.Context, id, newBatch string) (domain.File, error) {
	var renamed domain.File
	err := s.run(ctx, OpRenameBatch, func(ctx context.Context) (string, error) {
		user, err := s.authorize(ctx, RoleUser)
		if err != nil {
			return id, err
		}
		unlock, err := s.locker.Lock(ctx, lockKey(id))
		if err != nil {
			return id, err
		}
		defer unlock()

		f, err := s.file(id)
		if err != nil {
			return id, err
		}
		if _, err := domain.NextState(f.State, domain.EventRenameBatch); err != nil {
			return id, err
		}
		if err := checkClaim(s.store.ListFiles(), f.Organism, newBatch, f.ID); err != nil {
			return id, err
		}
		rw, err := s.rewriter.Rewrite(ctx, f, newBatch)
		if err != nil {
			return id, err
		}

		_, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			cur, ok := tx.FindFile(id)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityFile, ID: id}
			}
			next, err := domain.NextState(cur.State, domain.EventRenameBatch)
			if err != nil {
				return err
			}
			if err := checkClaim(tx.Snapshot().ListFiles(), cur.Organism, newBatch, cur.ID); err != nil {
				return err
			}
			renamed, err = tx.UpdateFile(id, func(f *domain.File) error {
				f.BlobID = rw.Key
				f.Name = rw.Name
				f.Batch = newBatch
				f.Validated = domain.ValidationNone
				f.State = next
				return nil
			})
			return err
		})
		if err != nil {
			s.deleteBlob(ctx, OpRenameBatch, id, rw.Key)
			return id, err
		}
		s.deleteBlob(ctx, OpRenameBatch, id, f.BlobID)
		s.notify(ctx, EventFileBatchRenamed, user, renamed, map[string]any{"old_batch": f.Batch, "new_batch": newBatch})
		return id, nil
	})
	return renamed, err
}

// DeleteFile removes a file that has not been received, with its samples and
// blob. Only admins and the author may delete. The blob of a shipped file was
// locked read-only when it shipped and is retained in the store; the deletion
// event reports it with blob_retained.
func (s *Service) DeleteFile(ctx context.Context, id string) error {
	return s.run(ctx, OpDeleteFile, func(ctx context.Context) (string, error) {
		user, err := s.authorize(ctx, RoleBanned)
		if err != nil {
			return id, err
		}
		unlock, err := s.locker.Lock(ctx, lockKey(id))
		if err != nil {
			return id, err
		}
		defer unlock()

		f, err := s.file(id)
		if err != nil {
			return id, err
		}
		if !canDelete(user, f) {
			return id, fmt.Errorf("%w: only admins and the author may delete file %s", domain.ErrPermissionDenied, id)
		}
		if f.Received() {
			return id, fmt.Errorf("%w: file %s is received", domain.ErrIllegalTransition, id)
		}
		if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteFile(id)
		}); err != nil {
			return id, err
		}
		retained := s.deleteBlob(ctx, OpDeleteFile, id, f.BlobID)
		s.notify(ctx, EventFileDeleted, user, f, map[string]any{"blob_retained": retained})
		return id, nil
	})
}

// GetFile returns one file.
func (s *Service) GetFile(ctx context.Context, id string) (domain.File, error) {
	var f domain.File
	err := s.run(ctx, OpGetFile, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, RoleEnabled); err != nil {
			return id, err
		}
		var err error
		f, err = s.file(id)
		return id, err
	})
	return f, err
}

// FileFilter narrows ListFiles. Empty fields match everything.
type FileFilter struct {
	Organisation string
	Organism     string
	Batch        string
	State        domain.FileState
}

func (f FileFilter) match(file domain.File) bool {
	return (f.Organisation == "" || f.Organisation == file.Organisation) &&
		(f.Organism == "" || f.Organism == file.Organism) &&
		(f.Batch == "" || f.Batch == file.Batch) &&
		(f.State == "" || f.State == file.State)
}

// ListFiles returns the files matching filter, oldest first.
func (s *Service) ListFiles(ctx context.Context, filter FileFilter) ([]domain.File, error) {
	var out []domain.File
	err := s.run(ctx, OpListFiles, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, RoleEnabled); err != nil {
			return "", err
		}
		for _, f := range s.store.ListFiles() {
			if filter.match(f) {
				out = append(out, f)
			}
		}
		return "", nil
	})
	return out, err
}

// ListSamples returns the samples materialized for a file.
func (s *Service) ListSamples(ctx context.Context, fileID string) ([]domain.Sample, error) {
	var out []domain.Sample
	err := s.run(ctx, OpListSamples, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, RoleEnabled); err != nil {
			return fileID, err
		}
		if _, err := s.file(fileID); err != nil {
			return fileID, err
		}
		for _, sample := range s.store.ListSamples() {
			if sample.FileID == fileID {
				out = append(out, sample)
			}
		}
		return fileID, nil
	})
	return out, err
}

// BatchAvailable reports whether no received file claims (organism, batch).
func (s *Service) BatchAvailable(ctx context.Context, organism, batch string) (bool, error) {
	available := false
	err := s.run(ctx, OpBatchAvailable, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, RoleEnabled); err != nil {
			return "", err
		}
		_, claimed := claimant(s.store.ListFiles(), organism, batch, "")
		available = !claimed
		return "", nil
	})
	return available, err
}

// DownloadFile returns the stored workbook of a file.
func (s *Service) DownloadFile(ctx context.Context, id string) (domain.File, []byte, error) {
	var (
		f    domain.File
		data []byte
	)
	err := s.run(ctx, OpDownloadFile, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, RoleEnabled); err != nil {
			return id, err
		}
		var err error
		if f, err = s.file(id); err != nil {
			return id, err
		}
		data, err = download(ctx, s.blobs, f.BlobID)
		return id, err
	})
	return f, data, err
}

// DownloadURL returns a pre-signed URL for the workbook of a file when the
// blob store supports it.
func (s *Service) DownloadURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	var url string
	err := s.run(ctx, OpDownloadURL, func(ctx context.Context) (string, error) {
		if _, err := s.authorize(ctx, RoleEnabled); err != nil {
			return id, err
		}
		f, err := s.file(id)
		if err != nil {
			return id, err
		}
		url, err = s.blobs.PresignURL(ctx, f.BlobID, blob.SignedURLOptions{Method: "GET", Expiry: expiry})
		return id, err
	})
	return url, err
}

func (s *Service) file(id string) (domain.File, error) {
	f, ok := s.store.GetFile(id)
	if !ok {
		return domain.File{}, domain.ErrNotFound{Entity: domain.EntityFile, ID: id}
	}
	return f, nil
}

// createFile uploads data under key and records f pointing at it. The blob is
// removed again when the record cannot be committed.
func (s *Service) createFile(ctx context.Context, op, key string, data []byte, f domain.File) (domain.File, error) {
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: spreadsheet.ContentType,
		Metadata:    map[string]string{"name": f.Name, "batch": f.Batch},
	}); err != nil {
		return domain.File{}, fmt.Errorf("%w: upload %s: %v", domain.ErrBlobIO, key, err)
	}
	f.BlobID = key
	f.State = domain.StateDraft
	f.Validated = domain.ValidationNone
	var created domain.File
	if _, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		ids, err := ensureTimepoints(tx, f.Timepoints)
		if err != nil {
			return err
		}
		f.TimepointIDs = ids
		created, err = tx.CreateFile(f)
		return err
	}); err != nil {
		s.deleteBlob(ctx, op, "", key)
		return domain.File{}, err
	}
	return created, nil
}

func (s *Service) lockBlob(ctx context.Context, f domain.File) {
	locker, ok := s.blobs.(blob.Locker)
	if !ok {
		s.logger.Warn("blob store cannot lock objects", "op", OpShipFile, "file_id", f.ID, "driver", s.blobs.Driver())
		return
	}
	if err := locker.Lock(ctx, f.BlobID); err != nil {
		s.logger.Warn("lock shipped blob", "op", OpShipFile, "file_id", f.ID, "blob_id", f.BlobID, "error", err)
	}
}

// deleteBlob removes key and reports whether a locked blob was left in place.
func (s *Service) deleteBlob(ctx context.Context, op, fileID, key string) bool {
	_, err := s.blobs.Delete(ctx, key)
	switch {
	case err == nil:
		return false
	case errors.Is(err, blob.ErrLocked):
		s.logger.Info("locked blob retained", "op", op, "file_id", fileID, "blob_id", key)
		return true
	default:
		s.logger.Warn("delete blob", "op", op, "file_id", fileID, "blob_id", key, "error", err)
		return false
	}
}

func (s *Service) notify(ctx context.Context, name string, user User, f domain.File, payload map[string]any) {
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["name"] = f.Name
	payload["organism"] = f.Organism
	payload["batch"] = f.Batch
	payload["state"] = string(f.State)
	event := Event{Name: name, FileID: f.ID, UserID: user.ID, At: s.clock.Now().UTC(), Payload: payload}
	if q, ok := ctx.Value(outboxKey{}).(*outbox); ok {
		q.events = append(q.events, event)
		return
	}
	s.publish(ctx, event)
}

// outbox holds the events of one operation until its file lock is released.
type outbox struct {
	events []Event
}

type outboxKey struct{}

func (s *Service) publish(ctx context.Context, event Event) {
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("notify", "op", event.Name, "file_id", event.FileID, "error", err)
	}
}

// run wraps an operation with tracing, metrics, logging and auditing. Events
// raised by fn are published after it returns, once its locks are released.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	q := &outbox{}
	id, err := fn(context.WithValue(ctx, outboxKey{}, q))
	for _, event := range q.events {
		s.publish(ctx, event)
	}
	err = classify(err)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("operation failed", "op", op, "file_id", id, "error", err)
	} else {
		s.logger.Debug("operation completed", "op", op, "file_id", id, "duration", duration)
	}
	s.recordAudit(ctx, op, id, duration, err)
	return err
}

func (s *Service) recordAudit(ctx context.Context, op, id string, duration time.Duration, err error) {
	meta, ok := auditedOperations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  id,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now().UTC(),
	}
	if u, ok := UserFromContext(ctx); ok {
		entry.UserID = u.ID
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

func lockKey(id string) string { return "file:" + id }

func checkClaim(files []domain.File, organism, batch, exclude string) error {
	if holder, claimed := claimant(files, organism, batch, exclude); claimed {
		return fmt.Errorf("%w: batch %s of organism %s is held by received file %s", domain.ErrBatchConflict, batch, organism, holder.ID)
	}
	return nil
}
