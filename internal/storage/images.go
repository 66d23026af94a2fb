package storage

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// ErrTooLarge — файл превышает допустимый размер.
var ErrTooLarge = errors.New("файл слишком большой")

type SavedImage struct {
	RelativePath string
	SizeBytes    int64
}

// imageExt — расширения для типов, которые распознает http.DetectContentType.
var imageExt = map[string]string{
	"image/png":                ".png",
	"image/jpeg":               ".jpg",
	"image/gif":                ".gif",
	"image/webp":               ".webp",
	"image/bmp":                ".bmp",
	"image/x-icon":             ".ico",
	"image/vnd.microsoft.icon": ".ico",
}

// extensionFor подбирает расширение по MIME-типу содержимого. Имя файла,
// присланное клиентом, не учитывается.
func extensionFor(contentType string) string {
	ct, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(ct, "image/") {
		return ".img"
	}
	if ext, ok := imageExt[ct]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(ct); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".img"
}

// SaveImage пишет картинку в baseDir под случайным именем; расширение
// берется из contentType.
func SaveImage(baseDir string, contentType string, data io.Reader, maxSize int64) (SavedImage, error) {
	if baseDir == "" {
		return SavedImage{}, fmt.Errorf("пустая директория хранения")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return SavedImage{}, fmt.Errorf("не удалось создать директорию хранения: %w", err)
	}

	ext := extensionFor(contentType)

	name, err := randomHex(16)
	if err != nil {
		return SavedImage{}, fmt.Errorf("не удалось сгенерировать имя файла: %w", err)
	}

	filename := name + ext
	fullPath := filepath.Join(baseDir, filename)

	out, err := os.Create(fullPath)
	if err != nil {
		return SavedImage{}, fmt.Errorf("не удалось создать файл: %w", err)
	}
	defer out.Close()

	reader := data
	if maxSize > 0 {
		reader = io.LimitReader(data, maxSize+1)
	}

	n, err := io.Copy(out, reader)
	if err != nil {
		_ = os.Remove(fullPath)
		return SavedImage{}, fmt.Errorf("ошибка записи файла: %w", err)
	}

	if maxSize > 0 && n > maxSize {
		_ = os.Remove(fullPath)
		return SavedImage{}, ErrTooLarge
	}

	return SavedImage{
		RelativePath: filename,
		SizeBytes:    n,
	}, nil
}

// RemoveImage удаляет сохраненную картинку. Пути за пределами baseDir
// отклоняются.
func RemoveImage(baseDir string, relPath string) error {
	relPath = strings.TrimSpace(relPath)
	if relPath == "" {
		return nil
	}

	clean := filepath.Clean("/" + relPath)
	fullPath := filepath.Join(baseDir, clean)
	if filepath.Dir(fullPath) != filepath.Clean(baseDir) {
		return fmt.Errorf("недопустимый путь: %s", relPath)
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("не удалось удалить файл: %w", err)
	}
	return nil
}

func randomHex(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("некорректная длина")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", buf), nil
}
