package messaging

import (
	"context"
	"errors"
	"io"

	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/app/system/blobs"
	"github.com/dalemusser/strataconnect/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Upload stores an attachment blob and returns the record to pass to Post.
func (e *Engine) Upload(ctx context.Context, actor primitive.ObjectID, filename string, r io.Reader) (a models.Attachment, err error) {
	defer e.track("messaging.upload")(&err)

	if e.blobs == nil {
		return models.Attachment{}, apperr.ErrInvalidState.WithMessage("attachments are not enabled")
	}
	a, err = blobs.Upload(ctx, e.blobs, actor.Hex(), filename, r, e.maxBytes)
	if errors.Is(err, blobs.ErrTooLarge) {
		return models.Attachment{}, apperr.ErrValidation.WithFields(map[string]string{"file": "exceeds the size limit"})
	}
	if err != nil {
		return models.Attachment{}, err
	}
	e.log.Debug("attachment uploaded",
		zap.String("user_id", actor.Hex()),
		zap.String("path", a.Path),
		zap.String("content_type", a.ContentType),
		zap.Int64("size", a.Size))
	return a, nil
}
