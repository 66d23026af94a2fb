package apiserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"catalog_project/internal/db"
	"catalog_project/internal/models"
	"catalog_project/internal/storage"
)

// MaxImageSize is the upload limit for a single image.
const MaxImageSize = 10 << 20

// maxBodySize leaves room for the text fields next to a full-size image.
const maxBodySize = MaxImageSize + 1<<20

type ImageMode string

const (
	// ImagesInline keeps raw bytes in the database.
	ImagesInline ImageMode = "db"
	// ImagesOnDisk saves files under the upload dir and serves them at /uploads/.
	ImagesOnDisk ImageMode = "disk"
)

type Options struct {
	Images       ImageMode
	UploadDir    string
	ListEnvelope bool
}

// APIHandler serves one resource collection.
type APIHandler struct {
	store  *db.Store
	schema models.Schema
	opts   Options
}

func NewAPIHandler(store *db.Store, schema models.Schema, opts Options) *APIHandler {
	if opts.Images == "" {
		opts.Images = ImagesInline
	}
	return &APIHandler{store: store, schema: schema, opts: opts}
}

// Router builds the gin engine with all routes.
func (h *APIHandler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), cors())
	router.MaxMultipartMemory = MaxImageSize

	api := router.Group("/api")
	{
		res := api.Group("/" + h.schema.Resource)
		res.Use(limitBody(maxBodySize))
		res.GET("", h.List)
		res.POST("", h.Create)
		res.GET("/:id", h.Get)
		res.PUT("/:id", h.Update)
		res.DELETE("/:id", h.Delete)

		api.GET("/ping", PingHandler)
	}

	if h.opts.Images == ImagesOnDisk {
		router.Static("/uploads", h.opts.UploadDir)
	}
	return router
}

// limitBody rejects oversized requests before gin spools them to disk.
func limitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body is too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// List handles GET /api/<resource>
func (h *APIHandler) List(c *gin.Context) {
	records, err := h.store.List(c.Request.Context(), h.schema.Resource)
	if err != nil {
		log.Printf("Error in List handler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve " + h.schema.Resource})
		return
	}

	items := make([]gin.H, 0, len(records))
	for _, rec := range records {
		items = append(items, h.toJSON(rec))
	}

	if h.opts.ListEnvelope {
		c.JSON(http.StatusOK, gin.H{h.schema.Resource: items, "count": len(items)})
		return
	}
	c.JSON(http.StatusOK, items)
}

// Get handles GET /api/<resource>/:id
func (h *APIHandler) Get(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.toJSON(rec))
}

// Create handles POST /api/<resource> (multipart/form-data)
func (h *APIHandler) Create(c *gin.Context) {
	values, ok := h.bindFields(c)
	if !ok {
		return
	}

	rec := db.Record{Resource: h.schema.Resource, Fields: values}

	upload, ok := h.readImage(c)
	if !ok {
		return
	}
	if upload != nil {
		if !h.attachImage(c, &rec, upload) {
			return
		}
	}

	if err := h.store.Insert(c.Request.Context(), &rec); err != nil {
		log.Printf("Error in Create handler: %v", err)
		h.discardImage(rec.ImagePath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create record"})
		return
	}

	c.JSON(http.StatusCreated, h.toJSON(rec))
}

// Update handles PUT /api/<resource>/:id. Without a new image part the
// stored image is kept.
func (h *APIHandler) Update(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}

	values, ok := h.bindFields(c)
	if !ok {
		return
	}
	rec.Fields = values

	upload, ok := h.readImage(c)
	if !ok {
		return
	}

	oldPath := rec.ImagePath
	if upload != nil {
		rec.Image, rec.ImagePath, rec.ContentType = nil, "", ""
		if !h.attachImage(c, &rec, upload) {
			return
		}
	}

	if err := h.store.Update(c.Request.Context(), rec); err != nil {
		log.Printf("Error in Update handler for ID %s: %v", rec.ID, err)
		if upload != nil {
			h.discardImage(rec.ImagePath)
		}
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update record"})
		return
	}

	if upload != nil && oldPath != "" && oldPath != rec.ImagePath {
		h.discardImage(oldPath)
	}

	c.JSON(http.StatusOK, h.toJSON(rec))
}

// Delete handles DELETE /api/<resource>/:id
func (h *APIHandler) Delete(c *gin.Context) {
	rec, ok := h.load(c)
	if !ok {
		return
	}

	if err := h.store.Delete(c.Request.Context(), h.schema.Resource, rec.ID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		log.Printf("Error in Delete handler for ID %s: %v", rec.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete record"})
		return
	}

	h.discardImage(rec.ImagePath)
	c.JSON(http.StatusOK, gin.H{"message": "Record deleted successfully"})
}

func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Pong!"})
}

func (h *APIHandler) load(c *gin.Context) (db.Record, bool) {
	id := c.Param("id")
	rec, err := h.store.Get(c.Request.Context(), h.schema.Resource, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return db.Record{}, false
		}
		log.Printf("Error loading %s %s: %v", h.schema.Resource, id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve record"})
		return db.Record{}, false
	}
	return rec, true
}

// parseForm reads the multipart body once so that size errors map to 413.
func (h *APIHandler) parseForm(c *gin.Context) bool {
	err := c.Request.ParseMultipartForm(MaxImageSize)
	if err == nil || errors.Is(err, http.ErrNotMultipart) {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body is too large"})
		return false
	}
	log.Printf("Error parsing form: %v", err)
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
	return false
}

func (h *APIHandler) bindFields(c *gin.Context) (map[string]string, bool) {
	if !h.parseForm(c) {
		return nil, false
	}

	values := make(map[string]string, len(h.schema.Fields))
	for _, f := range h.schema.Fields {
		values[f.Key] = c.PostForm(f.Key)
	}
	values = h.schema.Pick(values)

	if err := h.schema.Validate(values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return values, true
}

type imageUpload struct {
	filename    string
	contentType string
	data        []byte
}

// readImage returns nil when the request has no image part.
func (h *APIHandler) readImage(c *gin.Context) (*imageUpload, bool) {
	header, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, true
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error retrieving image: " + err.Error()})
		return nil, false
	}

	if header.Size > MaxImageSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image is too large"})
		return nil, false
	}

	data, err := readPart(header)
	if err != nil {
		log.Printf("Error reading image %s: %v", header.Filename, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error reading image"})
		return nil, false
	}

	// The declared part type is ignored; only the bytes decide.
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		log.Printf("Rejected upload %s: declared %q, sniffed %q", header.Filename, header.Header.Get("Content-Type"), ct)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Uploaded file is not an image"})
		return nil, false
	}

	return &imageUpload{filename: header.Filename, contentType: ct, data: data}, true
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, MaxImageSize+1))
}

func (h *APIHandler) attachImage(c *gin.Context, rec *db.Record, img *imageUpload) bool {
	rec.ContentType = img.contentType

	if h.opts.Images != ImagesOnDisk {
		rec.Image = img.data
		return true
	}

	saved, err := storage.SaveImage(h.opts.UploadDir, img.contentType, bytes.NewReader(img.data), MaxImageSize)
	if err != nil {
		log.Printf("Error saving image %s: %v", img.filename, err)
		if errors.Is(err, storage.ErrTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image is too large"})
			return false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store image"})
		return false
	}
	rec.ImagePath = saved.RelativePath
	return true
}

// discardImage removes a stored file; failures are logged and ignored.
func (h *APIHandler) discardImage(relPath string) {
	if h.opts.Images != ImagesOnDisk || relPath == "" {
		return
	}
	if err := storage.RemoveImage(h.opts.UploadDir, relPath); err != nil {
		log.Printf("не удалось удалить старую картинку %s: %v", relPath, err)
		return
	}
	log.Printf("Removed old image: %s", relPath)
}

// toJSON shapes a record the way the Node API did: "_id", numeric fields as
// numbers, and inline images as a serialised Buffer.
func (h *APIHandler) toJSON(rec db.Record) gin.H {
	out := gin.H{"_id": rec.ID}
	for _, f := range h.schema.Fields {
		v := rec.Fields[f.Key]
		if f.Type == models.FieldNumber && models.IsJSONNumber(v) {
			out[f.Key] = json.Number(v)
			continue
		}
		out[f.Key] = v
	}

	switch {
	case len(rec.Image) > 0:
		data := make([]int, len(rec.Image))
		for i, b := range rec.Image {
			data[i] = int(b)
		}
		out["image"] = gin.H{"type": "Buffer", "data": data}
		out["contentType"] = rec.ContentType
	case rec.ImagePath != "":
		out["image"] = fmt.Sprintf("/uploads/%s", rec.ImagePath)
		out["contentType"] = rec.ContentType
	}

	if !rec.UploadedAt.IsZero() {
		out["uploadedAt"] = rec.UploadedAt.UTC().Format(time.RFC3339)
	}
	return out
}
