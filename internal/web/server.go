package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"catalog_project/internal/flash"
	"catalog_project/internal/models"
	"catalog_project/internal/notify"
)

//go:embed templates/*.html
var templateFS embed.FS

// Catalog is the remote collection the views operate on.
type Catalog interface {
	Schema() models.Schema
	List(ctx context.Context) ([]models.Record, error)
	Get(ctx context.Context, id string) (models.Record, error)
	Create(ctx context.Context, in models.Input) error
	Update(ctx context.Context, id string, in models.Input) error
	Delete(ctx context.Context, id string) error
}

type Options struct {
	Catalog     Catalog
	Flash       flash.Store
	Notifier    notify.Notifier
	Signer      *FormSigner
	Placeholder string
}

type Server struct {
	catalog     Catalog
	schema      models.Schema
	flash       flash.Store
	notifier    notify.Notifier
	signer      *FormSigner
	placeholder string
	pages       map[string]*template.Template
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func New(opts Options) (*Server, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("form signer is required")
	}
	if opts.Flash == nil {
		opts.Flash = flash.NewMemoryStore(flash.DefaultTTL)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{}
	}

	s := &Server{
		catalog:     opts.Catalog,
		schema:      opts.Catalog.Schema(),
		flash:       opts.Flash,
		notifier:    opts.Notifier,
		signer:      opts.Signer,
		placeholder: opts.Placeholder,
	}

	pages, err := s.parseTemplates()
	if err != nil {
		return nil, err
	}
	s.pages = pages
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /records", s.handleSubmit)
	mux.HandleFunc("POST /records/{id}/delete", s.handleDelete)
	mux.HandleFunc("GET /records/{id}", s.handleDetail)
	mux.HandleFunc("GET /catalog", s.handleCatalog)
	mux.HandleFunc("GET /add", s.handleAddForm)
	mux.HandleFunc("POST /add", s.handleAddSubmit)
	mux.HandleFunc("GET /export.xlsx", s.handleExport)
	mux.HandleFunc("POST /import", s.handleImport)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)
		log.Printf("http %s %s -> %d ua=%s", r.Method, r.URL.Path, rec.status, r.UserAgent())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) parseTemplates() (map[string]*template.Template, error) {
	funcs := template.FuncMap{
		"lower":     strings.ToLower,
		"imageSrc":  s.imageSrc,
		"imageSize": imageSize,
		"title":     recordTitle,
		"label":     fieldLabel,
		"date":      func(t time.Time) string { return t.Format("02/01/2006") },
		"ago":       humanize.Time,
	}

	pages := make(map[string]*template.Template)
	for _, page := range []string{"index", "catalog", "detail", "add", "error"} {
		t, err := template.New(page).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", page, err)
		}
		pages[page] = t
	}
	return pages, nil
}

// pageData is shared by all templates.
type pageData struct {
	Schema     models.Schema
	Flash      *flash.Message
	Token      string
	Year       int
	Records    []models.Record
	Record     models.Record
	Form       formState
	Error      string
	ErrorTitle string
}

type formState struct {
	ID      string
	Values  map[string]string
	Preview template.URL
	Error   string
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	data.Schema = s.schema
	data.Year = time.Now().Year()
	if data.Form.Values == nil {
		data.Form.Values = map[string]string{}
	}
	data.Flash = s.popFlash(w, r)

	token, err := s.formToken(w, r)
	if err != nil {
		log.Printf("form token error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	data.Token = token

	var buf bytes.Buffer
	if err := s.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Printf("render %s: %v", page, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, title, msg string) {
	s.render(w, r, status, "error", pageData{ErrorTitle: title, Error: msg})
}

// formToken reuses the browser's nonce cookie or sets a new one.
func (s *Server) formToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(nonceCookieName); err == nil && c.Value != "" {
		return s.signer.Issue(c.Value), nil
	}

	nonce, err := newNonce()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     nonceCookieName,
		Value:    nonce,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s.signer.Issue(nonce), nil
}

func (s *Server) checkToken(r *http.Request) error {
	var nonce string
	if c, err := r.Cookie(nonceCookieName); err == nil {
		nonce = c.Value
	}
	return s.signer.Verify(r.FormValue("token"), nonce)
}

const flashCookieName = "flash"

func (s *Server) setFlash(w http.ResponseWriter, r *http.Request, level flash.Level, text string) {
	id, err := s.flash.Put(r.Context(), flash.Message{Level: level, Text: text})
	if err != nil {
		log.Printf("flash: %v", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(flash.DefaultTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) popFlash(w http.ResponseWriter, r *http.Request) *flash.Message {
	c, err := r.Cookie(flashCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookieName, Value: "", Path: "/", MaxAge: -1})

	msg, ok, err := s.flash.Pop(r.Context(), c.Value)
	if err != nil {
		log.Printf("flash: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &msg
}

// imageSrc returns a value safe for an <img src>. Only image data URLs and
// http(s) URLs are let through; anything else gets the placeholder.
func (s *Server) imageSrc(rec models.Record) template.URL {
	src := rec.Image.DataURL()
	switch {
	case strings.HasPrefix(src, "data:image/"),
		strings.HasPrefix(src, "http://"),
		strings.HasPrefix(src, "https://"):
		return template.URL(src)
	}
	return template.URL(s.placeholder)
}

func imageSize(rec models.Record) string {
	n := rec.Image.Size()
	if n == 0 {
		return ""
	}
	return humanize.Bytes(uint64(n))
}

func recordTitle(schema models.Schema, rec models.Record) string {
	if t := strings.TrimSpace(rec.Get(schema.TitleField)); t != "" {
		return t
	}
	return "Untitled " + strings.ToLower(schema.Noun)
}

func fieldLabel(schema models.Schema, key string) string {
	if f, ok := schema.Field(key); ok {
		return f.Label
	}
	return key
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
