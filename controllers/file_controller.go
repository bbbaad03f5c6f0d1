package controllers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/cppla/filedrop/config"
	"github.com/cppla/filedrop/ledger"
	"github.com/cppla/filedrop/middleware"
	"github.com/cppla/filedrop/registry"
	"github.com/cppla/filedrop/storage"
	"github.com/cppla/filedrop/utils"
)

// notifier sends the download link mail; swapped out in tests.
type notifier func(receiverEmail, senderEmail, filename string, fileSize int64, downloadLink string, expiresAt time.Time) error

// FileController is the request-facing gateway: it is the only writer of new
// registry records and the only external reader of active state.
type FileController struct {
	reg    *registry.Registry
	led    *ledger.Ledger
	store  *storage.DiskStore
	notify notifier
}

// NewFileController wires the gateway to its collaborators.
func NewFileController(reg *registry.Registry, led *ledger.Ledger, store *storage.DiskStore) *FileController {
	return &FileController{reg: reg, led: led, store: store, notify: utils.SendFileLink}
}

// Upload stores the payload, creates the registry record, and optionally mails
// the download link. Bytes are durably written before the record exists; a
// registry failure rolls the bytes back so no orphans are left behind.
func (f *FileController) Upload(ctx *gin.Context) {
	cfg := config.Get()

	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "no file uploaded")
		return
	}
	defer file.Close()

	maxSize := int64(cfg.MaxFileSizeMB) * 1024 * 1024
	if header.Size > maxSize {
		utils.Error(ctx, http.StatusBadRequest, 40002, fmt.Sprintf("file size exceeds %dMB", cfg.MaxFileSizeMB))
		return
	}

	// Sniff the media type from the first bytes when the client sent nothing useful.
	head := make([]byte, 3072)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to read upload")
		return
	}
	head = head[:n]
	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = mimetype.Detect(head).String()
	}

	payload := io.LimitReader(io.MultiReader(bytes.NewReader(head), file), maxSize+1)
	locator, written, err := f.store.Put(payload, filepath.Ext(header.Filename))
	if err != nil {
		utils.Sugar.Errorf("upload: store payload failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to store file")
		return
	}
	if written > maxSize {
		_ = f.store.Delete(locator)
		utils.Error(ctx, http.StatusBadRequest, 40002, fmt.Sprintf("file size exceeds %dMB", cfg.MaxFileSizeMB))
		return
	}

	var ownerID *uint
	if id, ok := middleware.CurrentUserID(ctx); ok {
		ownerID = &id
	}
	senderEmail := strings.TrimSpace(ctx.PostForm("sender_email"))
	receiverEmail := strings.TrimSpace(ctx.PostForm("receiver_email"))

	rec, err := f.reg.Create(registry.CreateParams{
		OriginalName:  filepath.Base(header.Filename),
		FileSize:      written,
		MimeType:      mediaType,
		StoragePath:   locator,
		TTL:           time.Duration(cfg.FileTTLHours) * time.Hour,
		OwnerID:       ownerID,
		SenderEmail:   senderEmail,
		ReceiverEmail: receiverEmail,
	})
	if err != nil {
		// No record was created; remove the stored bytes so nothing is orphaned.
		_ = f.store.Delete(locator)
		utils.Sugar.Errorf("upload: create registry record failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to register file")
		return
	}

	downloadLink := f.downloadLink(ctx, rec.UUID)

	emailSent := false
	if receiverEmail != "" {
		if err := f.notify(receiverEmail, senderEmail, rec.OriginalName, rec.FileSize, downloadLink, rec.ExpiresAt); err != nil {
			utils.Sugar.Warnf("upload: notification mail to %s failed: %v", receiverEmail, err)
		} else {
			emailSent = true
		}
	}

	utils.Created(ctx, gin.H{
		"uuid":         rec.UUID,
		"filename":     rec.OriginalName,
		"fileSize":     rec.FileSize,
		"downloadLink": downloadLink,
		"expiryTime":   rec.ExpiresAt,
		"emailSent":    emailSent,
	})
}

// Download enforces registry state and streams the bytes. Inactive records are
// answered exactly like missing ones so deletion timing is not observable.
func (f *FileController) Download(ctx *gin.Context) {
	id := ctx.Param("uuid")

	rec, err := f.reg.Lookup(id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40401, "file not found")
			return
		}
		utils.Sugar.Errorf("download: lookup %s failed: %v", id, err)
		utils.Error(ctx, http.StatusInternalServerError, 50004, "download failed")
		return
	}
	if !rec.Active {
		utils.Error(ctx, http.StatusNotFound, 40401, "file not found")
		return
	}
	if rec.Expired(time.Now()) {
		utils.ErrorWithData(ctx, http.StatusGone, 41001, "file has expired", gin.H{
			"expiredAt": rec.ExpiresAt,
		})
		return
	}

	obj, err := f.store.Get(rec.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Metadata says the bytes exist, the store disagrees. Integrity fault.
			utils.Sugar.Errorf("download: bytes missing for active record %s", id)
			utils.Error(ctx, http.StatusInternalServerError, 50005, "file data unavailable")
			return
		}
		utils.Sugar.Errorf("download: open bytes for %s failed: %v", id, err)
		utils.Error(ctx, http.StatusInternalServerError, 50004, "download failed")
		return
	}
	defer obj.Close()

	// Access is counted at request acceptance; a client aborting mid-stream does
	// not roll it back. Bookkeeping failures must not block the stream.
	var userID *uint
	if uid, ok := middleware.CurrentUserID(ctx); ok {
		userID = &uid
	}
	if err := f.led.Append(rec.UUID, ctx.ClientIP(), ctx.Request.UserAgent(), userID); err != nil {
		utils.Sugar.Errorf("download: append download log for %s failed: %v", id, err)
	}
	if _, err := f.reg.IncrementAccess(rec.UUID); err != nil {
		utils.Sugar.Errorf("download: increment access for %s failed: %v", id, err)
	}

	ctx.DataFromReader(http.StatusOK, rec.FileSize, rec.MimeType, obj, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", rec.OriginalName),
	})
}

// Info returns metadata for an active record without touching counters or the
// storage path.
func (f *FileController) Info(ctx *gin.Context) {
	id := ctx.Param("uuid")

	rec, err := f.reg.Lookup(id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40401, "file not found")
			return
		}
		utils.Sugar.Errorf("info: lookup %s failed: %v", id, err)
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to get file info")
		return
	}
	if !rec.Active {
		utils.Error(ctx, http.StatusNotFound, 40401, "file not found")
		return
	}

	now := time.Now()
	remaining := time.Duration(0)
	if !rec.Expired(now) {
		remaining = rec.ExpiresAt.Sub(now)
	}
	utils.Success(ctx, gin.H{
		"file":                   rec,
		"is_expired":             rec.Expired(now),
		"time_remaining_seconds": int64(remaining.Seconds()),
	})
}

// ListMine returns the caller's active files with pagination.
func (f *FileController) ListMine(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "unauthorized")
		return
	}

	page, limit := 1, 10
	if v := strings.TrimSpace(ctx.Query("page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := strings.TrimSpace(ctx.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	files, total, err := f.reg.ListByOwner(userID, page, limit)
	if err != nil {
		utils.Sugar.Errorf("list files for user %d failed: %v", userID, err)
		utils.Error(ctx, http.StatusInternalServerError, 50006, "failed to list files")
		return
	}

	now := time.Now()
	items := make([]gin.H, 0, len(files))
	for i := range files {
		rec := &files[i]
		items = append(items, gin.H{
			"file":         rec,
			"is_expired":   rec.Expired(now),
			"downloadLink": f.downloadLink(ctx, rec.UUID),
		})
	}

	utils.Success(ctx, gin.H{
		"items": items,
		"pagination": gin.H{
			"page":        page,
			"limit":       limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// Delete lets the owner retire a file ahead of expiry. Bytes are removed first,
// then the record is marked inactive; both steps tolerate retries.
func (f *FileController) Delete(ctx *gin.Context) {
	userID, ok := middleware.CurrentUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "unauthorized")
		return
	}
	id := ctx.Param("uuid")

	rec, err := f.reg.Lookup(id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40401, "file not found")
			return
		}
		utils.Sugar.Errorf("delete: lookup %s failed: %v", id, err)
		utils.Error(ctx, http.StatusInternalServerError, 50007, "failed to delete file")
		return
	}
	// Non-owners get the same answer as a missing file.
	if !rec.Active || rec.OwnerID == nil || *rec.OwnerID != userID {
		utils.Error(ctx, http.StatusNotFound, 40401, "file not found")
		return
	}

	if err := f.store.Delete(rec.StoragePath); err != nil {
		utils.Sugar.Errorf("delete: remove bytes for %s failed: %v", id, err)
		utils.Error(ctx, http.StatusInternalServerError, 50007, "failed to delete file")
		return
	}
	switch err := f.reg.MarkInactive(id); {
	case err == nil, errors.Is(err, registry.ErrAlreadyInactive):
		// Already inactive means the sweeper won the race; same outcome.
	case errors.Is(err, registry.ErrNotFound):
		utils.Error(ctx, http.StatusNotFound, 40401, "file not found")
		return
	default:
		utils.Sugar.Errorf("delete: mark %s inactive failed: %v", id, err)
		utils.Error(ctx, http.StatusInternalServerError, 50007, "failed to delete file")
		return
	}

	utils.Success(ctx, gin.H{"message": "file deleted successfully"})
}

// downloadLink builds the externally addressable link, preferring the configured
// base URL and falling back to the request host.
func (f *FileController) downloadLink(ctx *gin.Context, id string) string {
	base := config.Get().AppURL
	if base == "" {
		scheme := "http"
		if ctx.Request.TLS != nil {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, ctx.Request.Host)
	}
	return fmt.Sprintf("%s/api/v1/files/download/%s", strings.TrimRight(base, "/"), id)
}
