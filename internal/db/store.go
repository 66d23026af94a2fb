package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("запись не найдена")

type Store struct {
	db     *sql.DB
	driver string
}

// Record — строка таблицы records. В Fields лежат поля ресурса; картинка
// хранится либо в самой строке (Image), либо в файле (ImagePath).
type Record struct {
	ID          string
	Resource    string
	Fields      map[string]string
	Image       []byte
	ImagePath   string
	ContentType string
	UploadedAt  time.Time
}

// Open открывает БД. driver — "sqlite" (dsn — путь к файлу) или "mysql".
func Open(driver string, dsn string) (*Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = "sqlite"
	}
	if dsn == "" {
		return nil, fmt.Errorf("строка подключения к БД пустая")
	}

	switch driver {
	case "sqlite":
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию БД: %w", err)
		}
	case "mysql":
	default:
		return nil, fmt.Errorf("неподдерживаемый драйвер БД: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия БД: %w", err)
	}

	if driver == "sqlite" {
		// Одно соединение: записи в WAL идут по очереди.
		db.SetMaxOpenConns(1)
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, err
		}
	} else if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("БД недоступна: %w", err)
	}

	if err := migrate(db, driver); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragma := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}

	for _, stmt := range pragma {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ошибка PRAGMA: %w", err)
		}
	}
	return nil
}

func migrate(db *sql.DB, driver string) error {
	var schema []string
	if driver == "mysql" {
		schema = []string{`
CREATE TABLE IF NOT EXISTS records (
	id VARCHAR(36) PRIMARY KEY,
	resource VARCHAR(64) NOT NULL,
	fields LONGTEXT NOT NULL,
	image LONGBLOB,
	image_path VARCHAR(255),
	content_type VARCHAR(128),
	uploaded_at BIGINT NOT NULL,
	INDEX idx_records_resource (resource, uploaded_at)
)`}
	} else {
		schema = []string{`
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	resource TEXT NOT NULL,
	fields TEXT NOT NULL,
	image BLOB,
	image_path TEXT,
	content_type TEXT,
	uploaded_at INTEGER NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_records_resource ON records(resource, uploaded_at)`,
		}
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ошибка миграции: %w", err)
		}
	}
	return nil
}

const selectColumns = `id, resource, fields, image, image_path, content_type, uploaded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec         Record
		fields      string
		imagePath   sql.NullString
		contentType sql.NullString
		uploadedAt  int64
	)
	if err := row.Scan(&rec.ID, &rec.Resource, &fields, &rec.Image, &imagePath, &contentType, &uploadedAt); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return Record{}, fmt.Errorf("ошибка разбора полей записи %s: %w", rec.ID, err)
	}
	rec.ImagePath = imagePath.String
	rec.ContentType = contentType.String
	rec.UploadedAt = time.UnixMilli(uploadedAt).UTC()
	return rec, nil
}

// List возвращает записи ресурса, новые первыми.
func (s *Store) List(ctx context.Context, resource string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM records
WHERE resource = ?
ORDER BY uploaded_at DESC, id DESC
`, resource)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения записей: %w", err)
	}
	defer rows.Close()

	var items []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка скана записи: %w", err)
		}
		items = append(items, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка rows: %w", err)
	}
	return items, nil
}

func (s *Store) Get(ctx context.Context, resource string, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+selectColumns+`
FROM records
WHERE resource = ? AND id = ?
`, resource, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("ошибка поиска записи: %w", err)
	}
	return rec, nil
}

// Insert сохраняет запись, заполняя пустые ID и UploadedAt.
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now().UTC()
	}

	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("ошибка сериализации полей: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO records (id, resource, fields, image, image_path, content_type, uploaded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, rec.ID, rec.Resource, string(fields), rec.Image, nullString(rec.ImagePath), nullString(rec.ContentType), rec.UploadedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("ошибка вставки записи: %w", err)
	}
	return nil
}

// Update перезаписывает поля и картинку существующей записи.
func (s *Store) Update(ctx context.Context, rec Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("ошибка сериализации полей: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE records
SET fields = ?, image = ?, image_path = ?, content_type = ?
WHERE resource = ? AND id = ?
`, string(fields), rec.Image, nullString(rec.ImagePath), nullString(rec.ContentType), rec.Resource, rec.ID)
	if err != nil {
		return fmt.Errorf("ошибка обновления записи: %w", err)
	}
	if s.driver == "mysql" {
		// MySQL возвращает ноль затронутых строк, если ничего не изменилось.
		return nil
	}
	return expectRow(res)
}

func (s *Store) Delete(ctx context.Context, resource string, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE resource = ? AND id = ?`, resource, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return expectRow(res)
}

func (s *Store) Count(ctx context.Context, resource string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE resource = ?`, resource).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчета записей: %w", err)
	}
	return n, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка RowsAffected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
