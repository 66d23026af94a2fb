package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config — настройки веб-интерфейса каталога.
type Config struct {
	APIURL           string
	Resource         string
	HTTPAddr         string
	APIProxyAddr     string
	APITimeout       time.Duration
	FormSecret       string
	PlaceholderImage string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TelegramToken  string
	TelegramChatID int64
}

// APIConfig — настройки эталонного REST API.
type APIConfig struct {
	Addr         string
	Resource     string
	DBDriver     string
	DBDSN        string
	ImageStorage string
	UploadDir    string
	ListEnvelope bool
	Seed         bool
}

const (
	ImageStorageDB   = "db"
	ImageStorageDisk = "disk"

	defaultPlaceholder = "https://placehold.co/300x450?text=No+Image"
)

// Load считывает .env, необязательный TOML-файл и переменные окружения.
// Переменные окружения важнее значений из TOML-файла.
func Load() (*Config, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}

	apiURL := src.get("API_URL")
	if apiURL == "" {
		return nil, fmt.Errorf("переменная API_URL не задана")
	}

	timeout, err := src.duration("API_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	redisDB, err := src.int("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	var chatID int64
	if raw := src.get("TELEGRAM_CHAT_ID"); raw != "" {
		chatID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("переменная TELEGRAM_CHAT_ID некорректна: %w", err)
		}
	}

	cfg := &Config{
		APIURL:           apiURL,
		Resource:         withDefault(src.get("RESOURCE"), "subjects"),
		HTTPAddr:         withDefault(src.get("HTTP_ADDR"), ":8080"),
		APIProxyAddr:     src.get("API_PROXY"),
		APITimeout:       timeout,
		FormSecret:       src.get("FORM_SECRET"),
		PlaceholderImage: withDefault(src.get("PLACEHOLDER_IMAGE"), defaultPlaceholder),
		RedisAddr:        src.get("REDIS_ADDR"),
		RedisPassword:    src.get("REDIS_PASSWORD"),
		RedisDB:          redisDB,
		TelegramToken:    src.get("TELEGRAM_TOKEN"),
		TelegramChatID:   chatID,
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		return nil, fmt.Errorf("переменная TELEGRAM_CHAT_ID обязательна вместе с TELEGRAM_TOKEN")
	}
	return cfg, nil
}

// LoadAPI считывает настройки cmd/api.
func LoadAPI() (*APIConfig, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}

	driver := strings.ToLower(withDefault(src.get("DB_DRIVER"), "sqlite"))
	dsn := src.get("DB_DSN")
	switch driver {
	case "sqlite":
		dsn = resolvePath(withDefault(dsn, "data/catalog.db"))
	case "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("переменная DB_DSN обязательна для mysql")
		}
	default:
		return nil, fmt.Errorf("неизвестный DB_DRIVER: %s", driver)
	}

	storage := strings.ToLower(withDefault(src.get("IMAGE_STORAGE"), ImageStorageDB))
	if storage != ImageStorageDB && storage != ImageStorageDisk {
		return nil, fmt.Errorf("неизвестный IMAGE_STORAGE: %s", storage)
	}

	envelope, err := src.bool("LIST_ENVELOPE")
	if err != nil {
		return nil, err
	}
	seed, err := src.bool("SEED")
	if err != nil {
		return nil, err
	}

	return &APIConfig{
		Addr:         withDefault(src.get("API_ADDR"), ":8082"),
		Resource:     withDefault(src.get("RESOURCE"), "subjects"),
		DBDriver:     driver,
		DBDSN:        dsn,
		ImageStorage: storage,
		UploadDir:    resolvePath(withDefault(src.get("UPLOAD_DIR"), "uploads")),
		ListEnvelope: envelope,
		Seed:         seed,
	}, nil
}

// source объединяет TOML-файл (низший приоритет) с окружением.
type source struct {
	file map[string]string
}

func newSource() (*source, error) {
	// Файла .env может не быть (Docker, systemd), это не ошибка.
	if err := godotenv.Load(); err != nil {
		fmt.Println("Инфо: файл .env не найден, ищем переменные в окружении OS")
	}

	src := &source{file: map[string]string{}}

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(resolvePath(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("файл конфигурации %s не найден", path)
		}
		return nil, fmt.Errorf("ошибка чтения конфигурации: %w", err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	for k, v := range raw {
		src.file[strings.ToUpper(k)] = strings.TrimSpace(fmt.Sprint(v))
	}
	return src, nil
}

func (s *source) get(key string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return s.file[key]
}

func (s *source) duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := s.get(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("переменная %s некорректна: %w", key, err)
	}
	return d, nil
}

func (s *source) int(key string, fallback int) (int, error) {
	raw := s.get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("переменная %s некорректна: %w", key, err)
	}
	return n, nil
}

func (s *source) bool(key string) (bool, error) {
	raw := s.get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("переменная %s некорректна: %w", key, err)
	}
	return b, nil
}

func withDefault(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func resolvePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return p
	}
	if filepath.IsAbs(p) {
		return p
	}

	if cwd, err := os.Getwd(); err == nil {
		return filepath.Clean(filepath.Join(cwd, p))
	}

	return p
}
