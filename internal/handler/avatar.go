package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/pong-backend/internal/apperror"
	"github.com/sakif/pong-backend/internal/service"
	"github.com/sakif/pong-backend/internal/storage/avatar"
)

// avatarFormField is the multipart field the web client uploads to.
const avatarFormField = "avatar"

// maxUploadBody bounds the whole multipart body: the file itself plus room
// for the boundaries, headers and any other small fields.
const maxUploadBody = avatar.MaxSize + 1<<20

// AvatarHandler serves avatar uploads and the stored files.
type AvatarHandler struct {
	profile       *service.ProfileService
	defaultAvatar string
	errs          ErrorWriter
}

func NewAvatarHandler(profile *service.ProfileService, defaultAvatar string, errs ErrorWriter) *AvatarHandler {
	return &AvatarHandler{profile: profile, defaultAvatar: defaultAvatar, errs: errs}
}

type avatarResponse struct {
	AvatarURL string `json:"avatar_url"`
}

// HandleUpload answers POST /api/users/{id}/avatar.
//
// STREAMING, NOT ParseMultipartForm:
// The "avatar" part is handed to the service as a reader, so the file goes
// straight to disk and the size limit is enforced while copying. It also
// lets the service check the user exists before looking at the file.
func (h *AvatarHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)

	upload, err := avatarPart(r)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	url, err := h.profile.UploadAvatar(r.Context(), id, upload)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avatarResponse{AvatarURL: url})
}

// avatarPart finds the avatar part of a multipart request. It returns a nil
// upload (and no error) when the request has no such part, including when
// it is not multipart at all.
func avatarPart(r *http.Request) (*service.AvatarUpload, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, nil
	}

	for {
		part, err := reader.NextPart()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, apperror.ValidationFailed(avatarFormField, "File too large (max 5 MiB)")
			}
			// io.EOF, or a body that is not valid multipart: either way
			// there is no file to read.
			return nil, nil
		}
		// A field sent without a filename parameter is a plain form value.
		// FileName reports "" for it, the same as an empty file input.
		if part.FormName() == avatarFormField {
			return &service.AvatarUpload{Filename: part.FileName(), Content: bodyLimitedPart{part}}, nil
		}
	}
}

// bodyLimitedPart reports avatar.ErrTooLarge when the request body hits
// maxUploadBody while the file is being copied. Large fields sent before the
// file count against the same limit, so a file under MaxSize can trip it.
type bodyLimitedPart struct {
	r io.Reader
}

func (p bodyLimitedPart) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return n, avatar.ErrTooLarge
	}
	return n, err
}

// HandleRemove answers DELETE /api/users/{id}/avatar and returns the user.
func (h *AvatarHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	user, err := h.profile.RemoveAvatar(r.Context(), id)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public(h.defaultAvatar))
}

// HandleServe answers GET /avatars/{filename} with the stored bytes.
//
// http.ServeContent sets Content-Type from the extension and handles
// Range and If-Modified-Since for us.
func (h *AvatarHandler) HandleServe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	f, err := h.profile.OpenAvatar(name)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, name, info.ModTime(), f)
}
