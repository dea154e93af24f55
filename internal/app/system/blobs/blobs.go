// Package blobs stores message attachments outside MongoDB.
//
// Store has the same Put/Delete contract as waffle's pantry/storage so a
// waffle backend can stand in for Disk. Message rows only keep the blob path
// and URL; the blobs themselves are released after the database change that
// orphaned them has committed.
package blobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dalemusser/strataconnect/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/storage"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the blob backend.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader, opts *storage.PutOptions) error
	Delete(ctx context.Context, path string) error
	URL(path string) string
}

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// Prefix is the key prefix of every blob written by Upload.
const Prefix = "attachments/"

// OwnerPrefix is the key prefix of every blob uploaded by owner. A message
// may only reference blobs under its sender's prefix.
func OwnerPrefix(owner string) string {
	return Prefix + owner + "/"
}

// sniffLen matches mimetype's default read limit.
const sniffLen = 3072

// Upload stores r under a fresh attachments/<owner>/YYYY/MM/ key and returns the
// Attachment to embed in a message. The content type is sniffed from the
// bytes, not taken from the client. maxBytes <= 0 means unlimited.
func Upload(ctx context.Context, store Store, owner, filename string, r io.Reader, maxBytes int64) (models.Attachment, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return models.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	head = head[:n]
	contentType := mimetype.Detect(head).String()

	body := io.MultiReader(bytes.NewReader(head), r)
	if maxBytes > 0 {
		body = io.LimitReader(body, maxBytes+1)
	}
	counter := &countingReader{r: body}

	now := time.Now().UTC()
	path := filepath.ToSlash(filepath.Join(
		fmt.Sprintf("%s%04d/%02d", OwnerPrefix(owner), now.Year(), now.Month()),
		uuid.NewString()[:8]+"-"+SanitizeFilename(filename),
	))

	if err := store.Put(ctx, path, counter, &storage.PutOptions{ContentType: contentType}); err != nil {
		return models.Attachment{}, fmt.Errorf("store attachment: %w", err)
	}
	if maxBytes > 0 && counter.n > maxBytes {
		_ = store.Delete(context.WithoutCancel(ctx), path)
		return models.Attachment{}, ErrTooLarge
	}

	return models.Attachment{
		Path:        path,
		URL:         store.URL(path),
		Name:        filepath.Base(filename),
		ContentType: contentType,
		Size:        counter.n,
	}, nil
}

// DeleteAll releases every attachment's blob. Failures are logged and
// counted by onFail; they never fail the caller, whose database change has
// already committed.
func DeleteAll(ctx context.Context, store Store, log *zap.Logger, atts []models.Attachment, onFail func()) {
	if store == nil {
		return
	}
	for _, a := range atts {
		if a.Path == "" {
			continue
		}
		if err := store.Delete(ctx, a.Path); err != nil {
			log.Warn("failed to delete attachment blob",
				zap.String("path", a.Path),
				zap.Error(err))
			if onFail != nil {
				onFail()
			}
		}
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// SanitizeFilename keeps [A-Za-z0-9._-] from the base name, replacing
// anything else with '_', and caps the length at 100 bytes with the
// extension preserved.
func SanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	out := make([]byte, 0, len(filename))
	for i := 0; i < len(filename); i++ {
		c := filename[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' {
			out = append(out, c)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) == 0 || string(out) == "." || string(out) == ".." {
		return "file"
	}
	if len(out) > 100 {
		ext := filepath.Ext(string(out))
		if ext != "" && len(ext) < 10 {
			out = append(out[:100-len(ext)], ext...)
		} else {
			out = out[:100]
		}
	}
	return string(out)
}
