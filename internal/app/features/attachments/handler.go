// internal/app/features/attachments/handler.go
package attachments

import (
	"errors"
	"net/http"

	"github.com/dalemusser/strataconnect/internal/app/engine/messaging"
	uierrors "github.com/dalemusser/strataconnect/internal/app/features/errors"
	"github.com/dalemusser/strataconnect/internal/app/features/shared"
	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/dalemusser/strataconnect/internal/app/system/authz"
	"github.com/dalemusser/strataconnect/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// multipart overhead allowed on top of the attachment itself
const formSlack = 1 << 20

// Handler accepts attachment uploads. The returned record is passed to a
// later message post.
type Handler struct {
	Engine   *messaging.Engine
	MaxBytes int64
	Log      *zap.Logger
}

// NewHandler constructs an attachments Handler.
func NewHandler(engine *messaging.Engine, maxBytes int64, logger *zap.Logger) *Handler {
	return &Handler{Engine: engine, MaxBytes: maxBytes, Log: logger}
}

// Routes mounts POST /.
func Routes(h *Handler, requireSignedIn func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requireSignedIn)
	r.Post("/", h.HandleUpload)
	return r
}

// HandleUpload handles POST /attachments with a multipart "file" field.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorID(r)

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes+formSlack)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			uierrors.Write(w, r, h.Log, apperr.ErrValidation.WithFields(map[string]string{"file": "exceeds the size limit"}))
			return
		}
		uierrors.Write(w, r, h.Log, apperr.ErrValidation.WithMessage("invalid multipart form").Wrap(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		uierrors.Write(w, r, h.Log, apperr.ErrValidation.WithFields(map[string]string{"file": "is required"}))
		return
	}
	defer file.Close()

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "attachments.upload")
	defer cancel()

	a, err := h.Engine.Upload(ctx, actor, header.Filename, file)
	if err != nil {
		uierrors.Write(w, r, h.Log, err)
		return
	}
	shared.JSON(w, http.StatusCreated, a)
}
