package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/erazemk/lostfound/internal/imaging"
	"github.com/erazemk/lostfound/internal/model"
	"github.com/erazemk/lostfound/internal/store"
)

// Listing page sizes.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// DefaultMaxUploadBytes limits photo uploads when no limit is configured.
const DefaultMaxUploadBytes = 5 << 20

// ItemsHandler handles item endpoints.
type ItemsHandler struct {
	DB             *sql.DB
	MaxUploadBytes int64
}

type itemRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Type        string `json:"type" validate:"required,oneof=lost found"`
	Location    string `json:"location" validate:"max=200"`
	Contact     string `json:"contact" validate:"max=200"`
}

func (req itemRequest) fields() store.ItemFields {
	return store.ItemFields{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Type:        req.Type,
		Location:    strings.TrimSpace(req.Location),
		Contact:     strings.TrimSpace(req.Contact),
	}
}

type itemList struct {
	Items  []model.Item `json:"items"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type deletionRequestBody struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func (h *ItemsHandler) maxUpload() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}

// List handles GET /api/items. user_id=me lists the caller's own items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ItemFilter{
		Type:  q.Get("type"),
		Query: strings.TrimSpace(q.Get("q")),
		Limit: defaultPageSize,
	}

	if f.Type != "" && !model.ValidItemType(f.Type) {
		jsonError(w, http.StatusBadRequest, "type must be lost or found")
		return
	}

	switch uid := q.Get("user_id"); uid {
	case "":
	case "me":
		claims := GetClaims(r.Context())
		if claims == nil {
			jsonError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		f.UserID = claims.UserID
	default:
		id, err := strconv.ParseInt(uid, 10, 64)
		if err != nil || id <= 0 {
			jsonError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		f.UserID = id
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		f.Offset = n
	}

	items, err := store.ListItems(r.Context(), h.DB, f)
	if err != nil {
		slog.Error("failed to list items", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	total, err := store.CountItems(r.Context(), h.DB, f)
	if err != nil {
		slog.Error("failed to count items", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, itemList{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset})
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "item")
	if !ok {
		return
	}

	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Create handles POST /api/items. The body is JSON, or a multipart form
// with the same fields and an optional "image" file.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req itemRequest
	var photo *imaging.Photo

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload()+1<<20)
		if err := r.ParseMultipartForm(h.maxUpload()); err != nil {
			jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
			return
		}
		req = itemRequest{
			Title:       r.FormValue("title"),
			Description: r.FormValue("description"),
			Type:        r.FormValue("type"),
			Location:    r.FormValue("location"),
			Contact:     r.FormValue("contact"),
		}
		if err := validationError(validate.Struct(&req)); err != nil {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}

		file, header, err := r.FormFile("image")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			jsonError(w, http.StatusBadRequest, "invalid image upload")
			return
		default:
			defer file.Close()
			if header.Size > h.maxUpload() {
				jsonError(w, http.StatusRequestEntityTooLarge, "image too large")
				return
			}
			photo, err = imaging.Process(file)
			if err != nil {
				jsonError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
	} else if err := decodeValid(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := claims.UserID
	item, err := store.CreateItem(r.Context(), h.DB, &userID, req.fields())
	if err != nil {
		slog.Error("failed to create item", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create item")
		return
	}

	if photo != nil {
		if err := store.SetItemImage(r.Context(), h.DB, item.ID, photo.Data, photo.Thumb, photo.MIME); err != nil {
			slog.Error("failed to save item image", "item_id", item.ID, "error", err)
			if err := store.DeleteItem(r.Context(), h.DB, item.ID); err != nil {
				slog.Error("failed to remove item after image error", "item_id", item.ID, "error", err)
			}
			jsonError(w, http.StatusInternalServerError, "failed to save image")
			return
		}
		item.HasImage = true
	}

	slog.Info("item created", "user", claims.Username, "item_id", item.ID, "type", item.Type)
	jsonResponse(w, http.StatusCreated, item)
}

// loadEditable loads the {id} item and checks that the caller owns it or
// is an admin. It writes the error response itself.
func (h *ItemsHandler) loadEditable(w http.ResponseWriter, r *http.Request) (*model.Item, bool) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}

	id, ok := pathID(w, r, "item")
	if !ok {
		return nil, false
	}

	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return nil, false
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return nil, false
	}
	if !item.OwnedBy(claims.UserID) && !claims.IsAdmin {
		jsonError(w, http.StatusForbidden, "you can only modify your own items")
		return nil, false
	}
	return item, true
}

// Update handles PUT /api/items/{id}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadEditable(w, r)
	if !ok {
		return
	}

	var req itemRequest
	if err := decodeValid(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.UpdateItem(r.Context(), h.DB, item.ID, req.fields()); err != nil {
		slog.Error("failed to update item", "item_id", item.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update item")
		return
	}

	updated, err := store.GetItem(r.Context(), h.DB, item.ID)
	if err != nil || updated == nil {
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return
	}

	slog.Info("item updated", "user", GetClaims(r.Context()).Username, "item_id", item.ID)
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/items/{id}.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadEditable(w, r)
	if !ok {
		return
	}

	if err := store.DeleteItem(r.Context(), h.DB, item.ID); err != nil {
		slog.Error("failed to delete item", "item_id", item.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}

	slog.Info("item deleted", "user", GetClaims(r.Context()).Username, "item_id", item.ID)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// UploadImage handles PUT /api/items/{id}/image.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadEditable(w, r)
	if !ok {
		return
	}

	// The multipart envelope gets a little headroom over the file limit.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload()+1<<20)
	if err := r.ParseMultipartForm(h.maxUpload()); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload() {
		jsonError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}

	photo, err := imaging.Process(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.SetItemImage(r.Context(), h.DB, item.ID, photo.Data, photo.Thumb, photo.MIME); err != nil {
		slog.Error("failed to save item image", "item_id", item.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save image")
		return
	}

	slog.Info("item image uploaded", "user", GetClaims(r.Context()).Username, "item_id", item.ID, "bytes", len(photo.Data))
	jsonResponse(w, http.StatusOK, map[string]string{"message": "image uploaded"})
}

// GetImage handles GET /api/items/{id}/image. size=thumb returns the
// thumbnail.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "item")
	if !ok {
		return
	}

	thumb := r.URL.Query().Get("size") == "thumb"
	data, mimeType, err := store.GetItemImage(r.Context(), h.DB, id, thumb)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get image")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

// RequestDeletion handles POST /api/items/{id}/deletion-requests. Only the
// poster may ask; admins delete directly.
func (h *ItemsHandler) RequestDeletion(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	id, ok := pathID(w, r, "item")
	if !ok {
		return
	}

	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	if !item.OwnedBy(claims.UserID) {
		jsonError(w, http.StatusForbidden, "only the poster can request deletion")
		return
	}

	var req deletionRequestBody
	if err := decodeValid(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	dr, err := store.CreateDeletionRequest(r.Context(), h.DB, item.ID, claims.UserID, strings.TrimSpace(req.Reason))
	if errors.Is(err, store.ErrPendingRequest) {
		jsonError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to create deletion request", "item_id", item.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create deletion request")
		return
	}
	if dr == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	slog.Info("deletion requested", "user", claims.Username, "item_id", item.ID, "request_id", dr.ID)
	jsonResponse(w, http.StatusCreated, dr)
}
