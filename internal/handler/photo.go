package handler

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/patient-recovery/internal/logging"
	"github.com/iliyamo/patient-recovery/internal/policy"
)

// PhotoPathPrefix is the public URL prefix of stored patient photos.
const PhotoPathPrefix = "/images/patients"

var allowedPhotoExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

// PhotoHandler stores uploaded patient photos on disk under
// Dir/images/patients and records their public URL.
type PhotoHandler struct {
	Patients PatientStore
	Dir      string
	MaxBytes int64
	Log      *logrus.Entry
}

func NewPhotoHandler(patients PatientStore, dir string, maxBytes int64) *PhotoHandler {
	return &PhotoHandler{Patients: patients, Dir: dir, MaxBytes: maxBytes, Log: logging.Component("photos")}
}

// Upload handles POST /patientphoto/:id/upload with multipart field "file".
// The file replaces any previous photo of the patient.
func (h *PhotoHandler) Upload(c echo.Context) error {
	p, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	if h.MaxBytes > 0 && fh.Size > h.MaxBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "file too large"})
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedPhotoExt[ext] {
		return badRequest(c, "unsupported image type")
	}

	ctx, cancel := dbContext(c)
	defer cancel()
	patient, err := h.Patients.Get(ctx, id, policy.PatientScope(p))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	prev := ""
	if patient.PhotoURL != nil {
		prev = *patient.PhotoURL
	}

	name := fmt.Sprintf("patient_%d%s", id, ext)
	if err := h.save(fh, name); err != nil {
		return respondError(c, h.Log, err)
	}
	url := PhotoPathPrefix + "/" + name
	if err := h.Patients.SetPhoto(ctx, id, url, p.Username); err != nil {
		// Same name means the recorded photo was overwritten; keep it.
		if url != prev {
			h.remove(url)
		}
		return respondError(c, h.Log, err)
	}
	if prev != "" && prev != url {
		h.remove(prev)
	}
	return c.JSON(http.StatusOK, echo.Map{"photoUrl": url})
}

func (h *PhotoHandler) photoDir() string {
	return filepath.Join(h.Dir, filepath.FromSlash(strings.TrimPrefix(PhotoPathPrefix, "/")))
}

// remove deletes the stored file behind a photo URL.  URLs outside
// PhotoPathPrefix are ignored.
func (h *PhotoHandler) remove(url string) {
	name, ok := strings.CutPrefix(url, PhotoPathPrefix+"/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) {
		return
	}
	err := os.Remove(filepath.Join(h.photoDir(), name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		h.Log.WithError(err).WithField("photo", url).Warn("remove photo file failed")
	}
}

// save writes the upload to a temporary file and renames it into place so
// readers never see a partial image.
func (h *PhotoHandler) save(fh *multipart.FileHeader, name string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dir := h.photoDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create photo dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var r io.Reader = src
	if h.MaxBytes > 0 {
		r = io.LimitReader(src, h.MaxBytes)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}
