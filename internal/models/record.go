package models

import (
	"encoding/base64"
	"io"
	"strings"
	"time"
)

const DefaultImageContentType = "image/jpeg"

// ImageRef — либо байты картинки из ответа API, либо ее URL.
// Заполнено ровно одно из полей Data и URL.
type ImageRef struct {
	Data        []byte
	ContentType string
	URL         string
}

// DataURL — текстовое представление картинки для атрибута src.
// Байты кодируются в base64, URL возвращается без изменений.
func (i *ImageRef) DataURL() string {
	if i == nil {
		return ""
	}
	if i.URL != "" {
		return i.URL
	}
	if len(i.Data) == 0 {
		return ""
	}
	ct := strings.TrimSpace(i.ContentType)
	if ct == "" {
		ct = DefaultImageContentType
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Size — размер байтов картинки, ноль для URL.
func (i *ImageRef) Size() int {
	if i == nil {
		return 0
	}
	return len(i.Data)
}

// Record — элемент каталога в том виде, в каком его вернул API.
type Record struct {
	ID         string
	Values     map[string]string
	Image      *ImageRef
	UploadedAt time.Time
}

// Get возвращает значение поля или пустую строку.
func (r Record) Get(key string) string {
	if r.Values == nil {
		return ""
	}
	return r.Values[key]
}

// Upload — файл, выбранный пользователем в форме.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Input — данные формы для создания или обновления записи.
type Input struct {
	Values map[string]string
	// Image равен nil, если новый файл не выбран.
	Image *Upload
}
