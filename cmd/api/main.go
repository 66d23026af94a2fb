package main

import (
	"context"
	"log"

	"catalog_project/internal/apiserver"
	"catalog_project/internal/config"
	"catalog_project/internal/db"
	"catalog_project/internal/models"
)

func main() {
	// 1. Загрузка конфигурации
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatalf("Ошибка конфигурации: %v", err)
	}

	schema, err := models.SchemaByName(cfg.Resource)
	if err != nil {
		log.Fatalf("Ошибка конфигурации: %v", err)
	}

	// 2. Инициализация БД
	store, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("Ошибка БД: %v", err)
	}
	defer store.Close()
	log.Printf("БД: %s", cfg.DBDriver)
	log.Printf("Картинки: %s (%s)", cfg.ImageStorage, cfg.UploadDir)

	// 3. Демо-данные для пустой коллекции
	if cfg.Seed {
		if err := apiserver.CheckAndSeed(context.Background(), store, schema); err != nil {
			log.Fatalf("Ошибка заполнения демо-данными: %v", err)
		}
	}

	// 4. REST API
	handler := apiserver.NewAPIHandler(store, schema, apiserver.Options{
		Images:       apiserver.ImageMode(cfg.ImageStorage),
		UploadDir:    cfg.UploadDir,
		ListEnvelope: cfg.ListEnvelope,
	})

	log.Printf("REST API /api/%s запущен на %s", schema.Resource, cfg.Addr)
	if err := handler.Router().Run(cfg.Addr); err != nil {
		log.Fatalf("Ошибка HTTP API: %v", err)
	}
}
