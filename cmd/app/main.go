package main

import (
	"context"
	"log"
	"net/http"

	"catalog_project/internal/config"
	"catalog_project/internal/flash"
	"catalog_project/internal/models"
	"catalog_project/internal/network"
	"catalog_project/internal/notify"
	"catalog_project/internal/service"
	"catalog_project/internal/web"
)

func main() {
	// 1. Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка конфигурации: %v", err)
	}

	schema, err := models.SchemaByName(cfg.Resource)
	if err != nil {
		log.Fatalf("Ошибка конфигурации: %v", err)
	}

	log.Printf("=== %s ===", schema.Title)

	// 2. HTTP-клиент (напрямую или через SOCKS5)
	httpClient, err := network.NewClient(cfg.APIProxyAddr, cfg.APITimeout)
	if err != nil {
		log.Fatalf("Ошибка сети: %v", err)
	}

	// 3. Клиент REST API
	catalog, err := service.NewCatalogClient(httpClient, cfg.APIURL, schema)
	if err != nil {
		log.Fatalf("Ошибка API: %v", err)
	}
	log.Printf("API: %s", catalog.CollectionURL())

	// 4. Уведомления
	var flashes flash.Store = flash.NewMemoryStore(flash.DefaultTTL)
	if cfg.RedisAddr != "" {
		rdb, err := flash.NewRedisClient(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Ошибка Redis: %v", err)
		}
		defer rdb.Close()
		flashes = flash.NewRedisStore(rdb, flash.DefaultTTL)
		log.Printf("Redis: %s", cfg.RedisAddr)
	}

	notifiers := notify.Multi{notify.LogNotifier{}}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Fatalf("Ошибка Telegram: %v", err)
		}
		notifiers = append(notifiers, tg)
	}

	signer, err := web.NewFormSigner(cfg.FormSecret)
	if err != nil {
		log.Fatalf("Ошибка подписи форм: %v", err)
	}
	if cfg.FormSecret == "" {
		log.Println("FORM_SECRET не задан: формы станут недействительны после перезапуска")
	}

	// 5. Веб-интерфейс
	srv, err := web.New(web.Options{
		Catalog:     catalog,
		Flash:       flashes,
		Notifier:    notifiers,
		Signer:      signer,
		Placeholder: cfg.PlaceholderImage,
	})
	if err != nil {
		log.Fatalf("Ошибка шаблонов: %v", err)
	}

	log.Printf("Веб-интерфейс запущен на %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, srv.Handler()); err != nil {
		log.Fatalf("Ошибка HTTP: %v", err)
	}
}
