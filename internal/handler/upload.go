package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/sakif/vidshare/internal/apperror"
	"github.com/sakif/vidshare/internal/auth"
	"github.com/sakif/vidshare/internal/model"
	"github.com/sakif/vidshare/internal/service"
)

// multipartMemory is how much of a multipart body is held in memory;
// larger parts spill to temporary files that ParseMultipartForm manages.
const multipartMemory = 32 << 20

// Uploader is the upload service. Reserve claims a concurrency slot up
// front; Receive then runs with UploadRequest.SlotHeld set.
type Uploader interface {
	Reserve() (release func(), err error)
	Receive(ctx context.Context, req service.UploadRequest) (*model.Video, error)
}

// UploadHandler accepts the upload form.
type UploadHandler struct {
	uploads  Uploader
	maxBytes int64
	logger   *slog.Logger
}

func NewUploadHandler(uploads Uploader, maxBytes int64, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{uploads: uploads, maxBytes: maxBytes, logger: logger}
}

// UploadResponse is returned on a successful upload.
type UploadResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	VideoID string       `json:"videoId"`
	Video   *model.Video `json:"video"`
}

// HandleUpload stores a video, its channel logo and its catalog entry.
//
// HTTP: POST /upload (multipart/form-data)
// Fields: title, channelName, video (file), logo (file)
// Auth: Required
//
// SLOT FIRST:
// The upload slot is claimed before a single body byte is read. When every
// slot is busy the client gets 429 straight away and the multi-hundred
// megabyte body is never spooled to disk.
//
// SIZE LIMIT:
// http.MaxBytesReader stops reading at maxBytes, so an oversized body fails
// inside ParseMultipartForm with *http.MaxBytesError (413) instead of
// filling the disk.
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthenticated())
		return
	}

	release, err := h.uploads.Reserve()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer release()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeError(w, h.logger, err)
			return
		}
		writeError(w, h.logger, apperror.ValidationFailed("body", "request must be multipart/form-data"))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("removing multipart temp files", slog.String("error", err.Error()))
		}
	}()

	req := service.UploadRequest{
		OwnerID:     user.ID,
		Title:       r.FormValue("title"),
		ChannelName: r.FormValue("channelName"),
		SlotHeld:    true,
	}

	video, closeVideo := formFile(r, "video")
	defer closeVideo()
	logo, closeLogo := formFile(r, "logo")
	defer closeLogo()
	req.Video, req.Logo = video, logo

	v, err := h.uploads.Receive(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		Success: true,
		Message: "Upload complete",
		VideoID: v.ID,
		Video:   v,
	})
}

// formFile opens the named file part. A missing part yields nil, which the
// upload service reports as a validation error on that field.
func formFile(r *http.Request, field string) (*service.UploadFile, func()) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, func() {}
	}
	return &service.UploadFile{Name: fileName(hdr), Reader: f}, func() { _ = f.Close() }
}

func fileName(hdr *multipart.FileHeader) string {
	if hdr == nil {
		return ""
	}
	return hdr.Filename
}
