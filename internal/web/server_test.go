package web

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"

	"catalog_project/internal/flash"
	"catalog_project/internal/models"
	"catalog_project/internal/notify"
	"catalog_project/internal/service"
)

type fakeCatalog struct {
	mu       sync.Mutex
	schema   models.Schema
	records  []models.Record
	created  []models.Input
	updated  map[string]models.Input
	deleted  []string
	images   map[string][]byte
	failWith error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		schema:  models.Subjects,
		updated: map[string]models.Input{},
		images:  map[string][]byte{},
		records: []models.Record{
			{
				ID: "a1",
				Values: map[string]string{
					"course": "Algorithms", "bookname": "CLRS", "author": "Cormen",
					"edition": "3", "price": "99.5", "description": "The big one",
				},
				Image:      &models.ImageRef{Data: []byte("hi"), ContentType: "image/png"},
				UploadedAt: time.Now().Add(-48 * time.Hour),
			},
			{
				ID:     "b2",
				Values: map[string]string{"course": "Compilers", "bookname": "Dragon Book", "author": "Aho"},
			},
		},
	}
}

func (f *fakeCatalog) Schema() models.Schema { return f.schema }

func (f *fakeCatalog) List(context.Context) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return append([]models.Record(nil), f.records...), nil
}

func (f *fakeCatalog) Get(_ context.Context, id string) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return models.Record{}, f.failWith
	}
	for _, rec := range f.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return models.Record{}, &service.StatusError{Code: http.StatusNotFound}
}

func (f *fakeCatalog) Create(_ context.Context, in models.Input) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if in.Image != nil {
		data, _ := io.ReadAll(in.Image.Body)
		f.images[in.Values["course"]] = data
	}
	f.created = append(f.created, in)
	return nil
}

func (f *fakeCatalog) Update(_ context.Context, id string, in models.Input) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.updated[id] = in
	return nil
}

func (f *fakeCatalog) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e notify.Event) {
	n.events = append(n.events, e)
}

type testEnv struct {
	t        *testing.T
	catalog  *fakeCatalog
	notifier *recordingNotifier
	handler  http.Handler
	cookies  map[string]*http.Cookie
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	signer, err := NewFormSigner("test-secret")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	catalog := newFakeCatalog()
	notifier := &recordingNotifier{}

	srv, err := New(Options{
		Catalog:     catalog,
		Flash:       flash.NewMemoryStore(time.Minute),
		Notifier:    notifier,
		Signer:      signer,
		Placeholder: "https://placehold.co/300x450?text=No+Image",
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	return &testEnv{
		t:        t,
		catalog:  catalog,
		notifier: notifier,
		handler:  srv.Handler(),
		cookies:  map[string]*http.Cookie{},
	}
}

// do runs a request carrying the cookies set so far, like a browser would.
func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	e.t.Helper()
	for _, c := range e.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(e.cookies, c.Name)
			continue
		}
		e.cookies[c.Name] = c
	}
	return rec
}

func (e *testEnv) get(path string) (*httptest.ResponseRecorder, *goquery.Document) {
	e.t.Helper()
	rec := e.do(httptest.NewRequest(http.MethodGet, path, nil))
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		e.t.Fatalf("parse html: %v", err)
	}
	return rec, doc
}

func (e *testEnv) token() string {
	e.t.Helper()
	_, doc := e.get("/add")
	token, ok := doc.Find(`input[name="token"]`).First().Attr("value")
	if !ok || token == "" {
		e.t.Fatal("token input missing")
	}
	return token
}

func (e *testEnv) postMultipart(path string, fields map[string]string, fileField, filename string, file []byte) *httptest.ResponseRecorder {
	e.t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, filename)
		if err != nil {
			e.t.Fatalf("create part: %v", err)
		}
		part.Write(file)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return e.do(req)
}

func (e *testEnv) postForm(path string, values url.Values) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

func validFields(token string) map[string]string {
	return map[string]string{
		"token":       token,
		"course":      "Databases",
		"bookname":    "Readings in Database Systems",
		"author":      "Stonebraker",
		"edition":     "5",
		"price":       "40",
		"description": "Red book",
	}
}

func TestIndexRendersCards(t *testing.T) {
	env := newTestEnv(t)

	rec, doc := env.get("/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	cards := doc.Find(".card")
	if cards.Length() != 2 {
		t.Fatalf("expected 2 cards, got %d", cards.Length())
	}

	first := cards.First()
	if got := first.Find("h3").Text(); got != "Algorithms" {
		t.Fatalf("unexpected title %q", got)
	}
	if src, _ := first.Find("img").Attr("src"); src != "data:image/png;base64,aGk=" {
		t.Fatalf("unexpected img src %q", src)
	}
	if !strings.Contains(first.Find(".uploaded").Text(), "2 days ago") {
		t.Fatalf("unexpected upload text %q", first.Find(".uploaded").Text())
	}

	if src, _ := cards.Eq(1).Find("img").Attr("src"); !strings.HasPrefix(src, "https://placehold.co/") {
		t.Fatalf("missing placeholder, got %q", src)
	}

	if got := strings.TrimSpace(doc.Find("#form button[type=submit]").Text()); got != "Add Course" {
		t.Fatalf("unexpected submit label %q", got)
	}
}

func TestIndexEditPrefillsForm(t *testing.T) {
	env := newTestEnv(t)

	_, doc := env.get("/?edit=a1")

	if v, _ := doc.Find(`#form input[name="id"]`).Attr("value"); v != "a1" {
		t.Fatalf("hidden id = %q", v)
	}
	if v, _ := doc.Find(`#form input[name="bookname"]`).Attr("value"); v != "CLRS" {
		t.Fatalf("bookname = %q", v)
	}
	if v := doc.Find(`#form textarea[name="description"]`).Text(); v != "The big one" {
		t.Fatalf("description = %q", v)
	}
	if src, _ := doc.Find("#preview").Attr("src"); src != "data:image/png;base64,aGk=" {
		t.Fatalf("preview = %q", src)
	}
	if got := strings.TrimSpace(doc.Find("#form button[type=submit]").Text()); got != "Update Course" {
		t.Fatalf("unexpected submit label %q", got)
	}
}

func TestIndexListFailureShowsMessage(t *testing.T) {
	env := newTestEnv(t)
	env.catalog.failWith = errors.New("connection refused")

	rec, doc := env.get("/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(doc.Find("#list .toast-error").Text(), "Could not load courses") {
		t.Fatal("list error not shown")
	}
}

func TestSubmitCreateRedirectsAndFlashes(t *testing.T) {
	env := newTestEnv(t)
	token := env.token()

	rec := env.postMultipart("/records", validFields(token), "image", "cover.jpg", []byte("jpeg"))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Header().Get("Location"))
	}

	if len(env.catalog.created) != 1 {
		t.Fatalf("expected one create, got %d", len(env.catalog.created))
	}
	if string(env.catalog.images["Databases"]) != "jpeg" {
		t.Fatalf("image not forwarded: %q", env.catalog.images["Databases"])
	}
	if len(env.notifier.events) != 1 || env.notifier.events[0].Action != notify.Created {
		t.Fatalf("unexpected events: %+v", env.notifier.events)
	}

	_, doc := env.get("/")
	if got := doc.Find(".toast-info").Text(); got != "Course created successfully!" {
		t.Fatalf("flash = %q", got)
	}

	// Flash is shown once.
	_, doc = env.get("/")
	if doc.Find(".toast-info").Length() != 0 {
		t.Fatal("flash shown twice")
	}
}

func TestSubmitUpdateWithoutImage(t *testing.T) {
	env := newTestEnv(t)
	fields := validFields(env.token())
	fields["id"] = "a1"

	rec := env.postMultipart("/records", fields, "", "", nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}

	in, ok := env.catalog.updated["a1"]
	if !ok {
		t.Fatal("update not called")
	}
	if in.Image != nil {
		t.Fatal("image must be nil when no file chosen")
	}
	if in.Values["course"] != "Databases" {
		t.Fatalf("unexpected values %v", in.Values)
	}
}

func TestSubmitRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	env.token()

	fields := validFields("123.deadbeef")
	rec := env.postMultipart("/records", fields, "", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(env.catalog.created) != 0 {
		t.Fatal("create must not be called")
	}
}

func TestSubmitValidationRerendersForm(t *testing.T) {
	env := newTestEnv(t)
	fields := validFields(env.token())
	fields["price"] = "free"

	rec := env.postMultipart("/records", fields, "", "", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}

	doc, _ := goquery.NewDocumentFromReader(rec.Body)
	if !strings.Contains(doc.Find("#form .toast-error").Text(), `"price" must be a number`) {
		t.Fatalf("validation message missing: %q", doc.Find("#form .toast-error").Text())
	}
	if v, _ := doc.Find(`#form input[name="course"]`).Attr("value"); v != "Databases" {
		t.Fatalf("typed values lost: %q", v)
	}
	if doc.Find(".card").Length() != 2 {
		t.Fatal("list must still be rendered")
	}
	if len(env.catalog.created) != 0 {
		t.Fatal("create must not be called")
	}
}

func TestSubmitAPIFailureFlashesError(t *testing.T) {
	env := newTestEnv(t)
	token := env.token()
	env.catalog.failWith = errors.New("boom")

	rec := env.postMultipart("/records", validFields(token), "", "", nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}

	env.catalog.failWith = nil
	_, doc := env.get("/")
	if got := doc.Find(".toast-error").First().Text(); got != "Error submitting form. Please try again." {
		t.Fatalf("flash = %q", got)
	}
	if len(env.notifier.events) != 0 {
		t.Fatal("failed submit must not notify")
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	token := env.token()

	rec := env.postForm("/records/a1/delete", url.Values{"token": {token}, "title": {"Algorithms"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(env.catalog.deleted) != 1 || env.catalog.deleted[0] != "a1" {
		t.Fatalf("unexpected deletes %v", env.catalog.deleted)
	}
	if env.notifier.events[0].Title != "Algorithms" {
		t.Fatalf("unexpected event %+v", env.notifier.events[0])
	}

	rec = env.postForm("/records/a1/delete", url.Values{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing token status = %d", rec.Code)
	}
}

func TestCatalogAndDetail(t *testing.T) {
	env := newTestEnv(t)

	_, doc := env.get("/catalog")
	links := doc.Find("a.details")
	if links.Length() != 2 {
		t.Fatalf("expected 2 detail links, got %d", links.Length())
	}
	if href, _ := links.First().Attr("href"); href != "/records/a1" {
		t.Fatalf("unexpected href %q", href)
	}
	if doc.Find("a.add").Length() != 1 {
		t.Fatal("add link missing")
	}

	rec, doc := env.get("/records/a1")
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status = %d", rec.Code)
	}
	if got := doc.Find(`dd[data-field="edition"]`).Text(); got != "3" {
		t.Fatalf("edition = %q", got)
	}
	if got := doc.Find("#detail h1").Text(); got != "Algorithms" {
		t.Fatalf("title = %q", got)
	}

	rec, _ = env.get("/records/zzz")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing record status = %d", rec.Code)
	}

	env.catalog.failWith = errors.New("down")
	rec, _ = env.get("/records/a1")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("api failure status = %d", rec.Code)
	}
}

func TestAddFormRedirectsToCatalog(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postMultipart("/add", validFields(env.token()), "", "", nil)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/catalog" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Header().Get("Location"))
	}
	if len(env.catalog.created) != 1 {
		t.Fatal("create not called")
	}
}

func TestExportAndImport(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/export.xlsx", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "subjects.xlsx") {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("exported file unreadable: %v", err)
	}
	rows, _ := f.GetRows(f.GetSheetName(0))
	f.Close()
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}

	// The second fake record lacks required fields and is skipped on import.
	rec = env.postMultipart("/import", map[string]string{"token": env.token()}, "file", "catalog.xlsx", rec.Body.Bytes())
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("import status = %d", rec.Code)
	}
	if len(env.catalog.created) != 1 {
		t.Fatalf("expected 1 create, got %d", len(env.catalog.created))
	}

	_, doc := env.get("/")
	if got := doc.Find(".toast-info").Text(); got != "Imported 1, skipped 1, failed 0." {
		t.Fatalf("flash = %q", got)
	}
	last := env.notifier.events[len(env.notifier.events)-1]
	if last.Action != notify.Imported || last.Count != 1 {
		t.Fatalf("unexpected event %+v", last)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestImageSrcRejectsUnsafeSchemes(t *testing.T) {
	s := &Server{placeholder: "https://placehold.co/x"}

	rec := models.Record{Image: &models.ImageRef{URL: "javascript:alert(1)"}}
	if got := s.imageSrc(rec); got != "https://placehold.co/x" {
		t.Fatalf("unsafe src let through: %s", got)
	}
	rec = models.Record{Image: &models.ImageRef{Data: []byte("x"), ContentType: "text/html"}}
	if got := s.imageSrc(rec); got != "https://placehold.co/x" {
		t.Fatalf("non-image data url let through: %s", got)
	}
}
