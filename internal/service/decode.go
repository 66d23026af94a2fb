package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"catalog_project/internal/models"
)

func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

// decodeList accepts a bare array or an object envelope such as
// {"subjects": [...]}. The member named after the resource wins, otherwise
// the first array member in key order is used.
func decodeList(body []byte, resource string) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("пустой ответ API")
	}

	switch trimmed[0] {
	case '[':
		var items []map[string]any
		if err := decodeJSON(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		var envelope map[string]json.RawMessage
		if err := decodeJSON(trimmed, &envelope); err != nil {
			return nil, err
		}

		if raw, ok := envelope[resource]; ok {
			if string(bytes.TrimSpace(raw)) == "null" {
				return nil, nil
			}
			return decodeList(raw, resource)
		}

		keys := make([]string, 0, len(envelope))
		for k := range envelope {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			raw := bytes.TrimSpace(envelope[k])
			if len(raw) > 0 && raw[0] == '[' {
				return decodeList(raw, resource)
			}
		}
		return nil, fmt.Errorf("в ответе нет списка записей")
	}
	return nil, fmt.Errorf("неожиданный формат ответа")
}

// decodeObject accepts a bare record or an envelope like {"subject": {...}}.
func decodeObject(body []byte, resource string) (map[string]any, error) {
	var obj map[string]any
	if err := decodeJSON(body, &obj); err != nil {
		return nil, err
	}

	if _, ok := obj["_id"]; ok {
		return obj, nil
	}
	if _, ok := obj["id"]; ok {
		return obj, nil
	}
	for _, key := range []string{strings.TrimSuffix(resource, "s"), resource, "data"} {
		if inner, ok := obj[key].(map[string]any); ok {
			return inner, nil
		}
	}
	return obj, nil
}

func (c *CatalogClient) decodeRecord(raw map[string]any) models.Record {
	rec := models.Record{
		ID:     firstString(raw, "_id", "id"),
		Values: make(map[string]string, len(c.schema.Fields)),
	}

	for _, f := range c.schema.Fields {
		rec.Values[f.Key] = stringify(raw[f.Key])
	}

	contentType := stringify(raw["contentType"])
	rec.Image = c.decodeImage(raw["image"], contentType)

	for _, key := range []string{"uploadedAt", "createdAt", "created_at"} {
		if s := stringify(raw[key]); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				rec.UploadedAt = t
				break
			}
		}
	}
	return rec
}

// decodeImage turns the API's image member into an ImageRef. Node serialises
// a Buffer as {"type":"Buffer","data":[...]}; Mongo documents sometimes nest
// it one level deeper as {"data": <Buffer>, "contentType": "..."}.
func (c *CatalogClient) decodeImage(v any, contentType string) *models.ImageRef {
	switch img := v.(type) {
	case string:
		img = strings.TrimSpace(img)
		switch {
		case img == "":
			return nil
		case strings.HasPrefix(img, "data:"),
			strings.HasPrefix(img, "http://"),
			strings.HasPrefix(img, "https://"):
			return &models.ImageRef{URL: img}
		case strings.HasPrefix(img, "/"):
			return &models.ImageRef{URL: c.origin + img}
		default:
			return &models.ImageRef{URL: c.origin + "/" + img}
		}
	case map[string]any:
		if ct := stringify(img["contentType"]); ct != "" {
			contentType = ct
		}
		switch data := img["data"].(type) {
		case []any:
			b, ok := toBytes(data)
			if !ok || len(b) == 0 {
				return nil
			}
			return &models.ImageRef{Data: b, ContentType: contentType}
		case map[string]any:
			return c.decodeImage(data, contentType)
		case string:
			return c.decodeImage(data, contentType)
		}
	}
	return nil
}

func toBytes(items []any) ([]byte, bool) {
	out := make([]byte, len(items))
	for i, item := range items {
		n, ok := item.(json.Number)
		if !ok {
			return nil, false
		}
		v, err := n.Int64()
		if err != nil || v < 0 || v > 255 {
			return nil, false
		}
		out[i] = byte(v)
	}
	return out, true
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringify(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(val)
	}
}
