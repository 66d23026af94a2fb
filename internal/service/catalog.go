package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"

	"catalog_project/internal/models"
	"catalog_project/internal/parser"
)

// ErrNotFound оборачивается в StatusError для ответов 404.
var ErrNotFound = errors.New("запись не найдена")

// StatusError — ответ API с кодом вне диапазона 2xx.
type StatusError struct {
	Method  string
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: сервер вернул код %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: сервер вернул код %d: %s", e.Method, e.URL, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// maxResponseBody ограничивает чтение ответа: списки несут байты картинок
// в виде JSON-массивов, а они большие.
const maxResponseBody = 64 << 20

// CatalogClient работает с одной коллекцией удаленного REST API.
type CatalogClient struct {
	httpClient    *http.Client
	collectionURL string
	origin        string
	schema        models.Schema
}

// NewCatalogClient создает клиент. baseURL может указывать на корень API
// (".../api") или сразу на коллекцию (".../api/subjects").
func NewCatalogClient(client *http.Client, baseURL string, schema models.Schema) (*CatalogClient, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("некорректный API_URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("некорректный API_URL: %q", baseURL)
	}

	u.Path = strings.TrimRight(u.Path, "/")
	if path.Base(u.Path) != schema.Resource {
		u.Path += "/" + schema.Resource
	}
	u.RawQuery = ""
	u.Fragment = ""

	return &CatalogClient{
		httpClient:    client,
		collectionURL: u.String(),
		origin:        u.Scheme + "://" + u.Host,
		schema:        schema,
	}, nil
}

func (c *CatalogClient) Schema() models.Schema {
	return c.schema
}

func (c *CatalogClient) CollectionURL() string {
	return c.collectionURL
}

// List загружает всю коллекцию.
func (c *CatalogClient) List(ctx context.Context) ([]models.Record, error) {
	body, err := c.do(ctx, http.MethodGet, c.collectionURL, nil, "")
	if err != nil {
		return nil, err
	}

	raws, err := decodeList(body, c.schema.Resource)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора списка: %w", err)
	}

	records := make([]models.Record, 0, len(raws))
	for _, raw := range raws {
		records = append(records, c.decodeRecord(raw))
	}
	return records, nil
}

// Get загружает одну запись по id.
func (c *CatalogClient) Get(ctx context.Context, id string) (models.Record, error) {
	body, err := c.do(ctx, http.MethodGet, c.itemURL(id), nil, "")
	if err != nil {
		return models.Record{}, err
	}

	raw, err := decodeObject(body, c.schema.Resource)
	if err != nil {
		return models.Record{}, fmt.Errorf("ошибка разбора записи: %w", err)
	}
	return c.decodeRecord(raw), nil
}

// Create отправляет новую запись как multipart/form-data.
func (c *CatalogClient) Create(ctx context.Context, in models.Input) error {
	body, contentType, err := c.encodeForm(in)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, c.collectionURL, body, contentType)
	return err
}

// Update перезаписывает поля существующей записи. Картинка отправляется только
// при заданном in.Image, иначе сервер оставляет старую.
func (c *CatalogClient) Update(ctx context.Context, id string, in models.Input) error {
	body, contentType, err := c.encodeForm(in)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, c.itemURL(id), body, contentType)
	return err
}

func (c *CatalogClient) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.itemURL(id), nil, "")
	return err
}

func (c *CatalogClient) itemURL(id string) string {
	return c.collectionURL + "/" + url.PathEscape(id)
}

func (c *CatalogClient) do(ctx context.Context, method, target string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка сети: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxResponseBody)); err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:  method,
			URL:     target,
			Code:    resp.StatusCode,
			Message: parser.ErrorMessage(buf.Bytes(), resp.Header.Get("Content-Type")),
		}
	}

	log.Printf("api %s %s -> %d (%d bytes)", method, target, resp.StatusCode, buf.Len())
	return buf.Bytes(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (c *CatalogClient) encodeForm(in models.Input) (io.Reader, string, error) {
	if err := c.schema.Validate(in.Values); err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	values := c.schema.Pick(in.Values)
	for _, f := range c.schema.Fields {
		if err := w.WriteField(f.Key, values[f.Key]); err != nil {
			return nil, "", fmt.Errorf("ошибка формирования формы: %w", err)
		}
	}

	if in.Image != nil && in.Image.Body != nil {
		ct := in.Image.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(in.Image.Filename)))
		h.Set("Content-Type", ct)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("ошибка формирования формы: %w", err)
		}
		if _, err := io.Copy(part, in.Image.Body); err != nil {
			return nil, "", fmt.Errorf("ошибка чтения картинки: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("ошибка формирования формы: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
