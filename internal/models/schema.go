package models

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// FieldType — тип поля формы.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldTextarea FieldType = "textarea"
)

// Field — одно редактируемое поле записи.
type Field struct {
	Key      string
	Label    string
	Type     FieldType
	Required bool
}

// Schema — описание ресурса каталога: имя коллекции в API и набор полей.
type Schema struct {
	// Resource — сегмент коллекции в URL API, например "subjects".
	Resource string
	// Noun — название записи в единственном числе, например "Course".
	Noun  string
	Title string
	// TitleField — поле-заголовок карточки.
	TitleField string
	// SubtitleFields выводятся под заголовком карточки.
	SubtitleFields []string
	Fields         []Field
}

var Subjects = Schema{
	Resource:       "subjects",
	Noun:           "Course",
	Title:          "Course Management System",
	TitleField:     "course",
	SubtitleFields: []string{"bookname", "author"},
	Fields: []Field{
		{Key: "course", Label: "Course Name", Type: FieldText, Required: true},
		{Key: "bookname", Label: "Book Name", Type: FieldText, Required: true},
		{Key: "author", Label: "Author", Type: FieldText, Required: true},
		{Key: "edition", Label: "Edition", Type: FieldText, Required: true},
		{Key: "price", Label: "Price", Type: FieldNumber, Required: true},
		{Key: "description", Label: "Description", Type: FieldTextarea, Required: true},
	},
}

var Products = Schema{
	Resource:       "products",
	Noun:           "Product",
	Title:          "Product Manager",
	TitleField:     "prd_name",
	SubtitleFields: []string{"prd_price", "prd_desc"},
	Fields: []Field{
		{Key: "prd_name", Label: "Product Name", Type: FieldText, Required: true},
		{Key: "prd_price", Label: "Price", Type: FieldNumber, Required: true},
		{Key: "prd_desc", Label: "Description", Type: FieldTextarea, Required: true},
	},
}

// SchemaByName возвращает встроенную схему по имени ресурса.
// Старый API использовал путь в единственном числе, поэтому "product" тоже принимается.
func SchemaByName(name string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "subjects", "subject":
		return Subjects, nil
	case "products", "product":
		return Products, nil
	}
	return Schema{}, fmt.Errorf("неизвестный ресурс: %q", name)
}

// Field возвращает поле по ключу.
func (s Schema) Field(key string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Validate проверяет обязательные поля и числа. Ключи, которых нет в схеме,
// игнорируются.
func (s Schema) Validate(values map[string]string) error {
	for _, f := range s.Fields {
		v := strings.TrimSpace(values[f.Key])
		if v == "" {
			if f.Required {
				return &ValidationError{Field: f.Key, Reason: "is required"}
			}
			continue
		}
		if f.Type == FieldNumber {
			if _, ok := parseNumber(v); !ok {
				return &ValidationError{Field: f.Key, Reason: "must be a number"}
			}
		}
	}
	return nil
}

// Pick копирует из values только поля схемы, обрезая пробелы. Числа
// приводятся к записи, допустимой в JSON (".5" становится "0.5").
func (s Schema) Pick(values map[string]string) map[string]string {
	out := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		v := strings.TrimSpace(values[f.Key])
		if f.Type == FieldNumber {
			v = NormalizeNumber(v)
		}
		out[f.Key] = v
	}
	return out
}

var jsonNumberRe = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// IsJSONNumber сообщает, можно ли вывести v в JSON как число без кавычек.
func IsJSONNumber(v string) bool {
	return jsonNumberRe.MatchString(v)
}

// NormalizeNumber переписывает конечное число в JSON-совместимом виде.
// Строки, уже подходящие под грамматику JSON, и не-числа возвращаются как есть.
func NormalizeNumber(v string) string {
	if v == "" || IsJSONNumber(v) {
		return v
	}
	f, ok := parseNumber(v)
	if !ok {
		return v
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// parseNumber отклоняет NaN и бесконечности, которые ParseFloat принимает.
func parseNumber(v string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q %s", e.Field, e.Reason)
}
