package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"ptxmeta/internal/blob"
	"ptxmeta/internal/spreadsheet"
	"ptxmeta/pkg/domain"
	"ptxmeta/pkg/identifier"
)

// Rewrite is a batch rewrite uploaded under a fresh key and not yet committed.
type Rewrite struct {
	Key      string
	Name     string
	Workbook *spreadsheet.Workbook
}

// BatchRewriter rebinds a stored workbook to a new exposure batch.
type BatchRewriter struct {
	blobs blob.Store
}

// NewBatchRewriter returns a rewriter over blobs.
func NewBatchRewriter(blobs blob.Store) *BatchRewriter {
	return &BatchRewriter{blobs: blobs}
}

// Rewrite downloads the workbook of f, rewrites its header batch and every
// identifier, and uploads the result next to the original. Nothing is
// uploaded when any row fails to rewrite.
func (r *BatchRewriter) Rewrite(ctx context.Context, f domain.File, newBatch string) (Rewrite, error) {
	if newBatch == f.Batch {
		return Rewrite{}, domain.NewInputError(domain.ErrInvalidRequest, domain.FieldError{
			Label: "Request", Field: "exposure_batch", Message: fmt.Sprintf("Batch is already %s.", newBatch),
		})
	}
	wb, err := loadWorkbook(ctx, r.blobs, f.BlobID)
	if err != nil {
		return Rewrite{}, err
	}
	rewritten, err := RewriteWorkbook(wb, newBatch)
	if err != nil {
		return Rewrite{}, err
	}
	data, err := spreadsheet.Marshal(rewritten)
	if err != nil {
		return Rewrite{}, fmt.Errorf("encode workbook: %w", err)
	}
	name := RenameBatch(f.Name, f.Batch, newBatch)
	key := siblingKey(f.BlobID, name)
	if _, err := r.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: spreadsheet.ContentType}); err != nil {
		return Rewrite{}, fmt.Errorf("%w: upload %s: %v", domain.ErrBlobIO, key, err)
	}
	return Rewrite{Key: key, Name: name, Workbook: rewritten}, nil
}

// RewriteWorkbook returns a copy of wb bound to batch. Identifiers are
// rewritten through the codec; a row whose identifier does not decode fails
// the whole rewrite.
func RewriteWorkbook(wb *spreadsheet.Workbook, batch string) (*spreadsheet.Workbook, error) {
	if !identifier.ValidBatch(batch) {
		return nil, domain.NewInputError(domain.ErrInvalidRequest, domain.FieldError{
			Label: "Request", Field: "exposure_batch", Message: fmt.Sprintf("Batch %q must be two uppercase letters.", batch),
		})
	}
	out := wb.Clone()
	out.General.ExposureBatch = batch
	var fields []domain.FieldError
	for i := range out.Exposure {
		row := &out.Exposure[i]
		id, err := identifier.Decode(row.Identifier)
		if err != nil {
			fields = append(fields, domain.FieldError{
				Label: row.Label(i), Field: string(spreadsheet.ColIdentifier),
				Message: fmt.Sprintf("Identifier %s is malformed.", row.Identifier),
			})
			continue
		}
		row.Identifier = identifier.MustEncode(id.WithBatch(batch))
	}
	if len(fields) > 0 {
		return nil, domain.NewInputError(domain.ErrInvalidIdentifier, fields...)
	}
	return out, nil
}

// RenameBatch substitutes oldBatch in name where it stands as a token, that
// is not adjacent to another letter.
func RenameBatch(name, oldBatch, newBatch string) string {
	if oldBatch == "" {
		return name
	}
	var b strings.Builder
	for i := 0; i < len(name); {
		if strings.HasPrefix(name[i:], oldBatch) &&
			(i == 0 || !isLetter(name[i-1])) &&
			(i+len(oldBatch) == len(name) || !isLetter(name[i+len(oldBatch)])) {
			b.WriteString(newBatch)
			i += len(oldBatch)
			continue
		}
		b.WriteByte(name[i])
		i++
	}
	return b.String()
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// blobKey places name under a fresh object prefix in folder.
func blobKey(folder, name string) string {
	return path.Join(folder, uuid.NewString(), name)
}

// siblingKey places name under a fresh prefix in the folder of key.
func siblingKey(key, name string) string {
	folder := path.Dir(path.Dir(key))
	if folder == "." {
		folder = ""
	}
	return blobKey(folder, name)
}

func loadWorkbook(ctx context.Context, blobs blob.Store, key string) (*spreadsheet.Workbook, error) {
	data, err := download(ctx, blobs, key)
	if err != nil {
		return nil, err
	}
	wb, err := spreadsheet.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: stored workbook %s: %v", domain.ErrIntegrity, key, err)
	}
	return wb, nil
}

func download(ctx context.Context, blobs blob.Store, key string) ([]byte, error) {
	_, rc, err := blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", domain.ErrBlobIO, key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrBlobIO, key, err)
	}
	return data, nil
}
