package apiserver_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"catalog_project/internal/apiserver"
	"catalog_project/internal/db"
	"catalog_project/internal/models"
	"catalog_project/internal/service"
)

var gifPixel = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\xff\xff\xff\x00\x00\x00!\xf9\x04\x00\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

func startAPI(t *testing.T, opts apiserver.Options) *service.CatalogClient {
	t.Helper()

	store, err := db.Open("sqlite", filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(apiserver.NewAPIHandler(store, models.Subjects, opts).Router())
	t.Cleanup(srv.Close)

	client, err := service.NewCatalogClient(srv.Client(), srv.URL+"/api", models.Subjects)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client
}

func subjectInput(course string, image []byte) models.Input {
	in := models.Input{Values: map[string]string{
		"course":      course,
		"bookname":    "Structure and Interpretation of Computer Programs",
		"author":      "Abelson, Sussman",
		"edition":     "2",
		"price":       "55",
		"description": "Wizard book.",
	}}
	if image != nil {
		in.Image = &models.Upload{Filename: "cover.gif", ContentType: "image/gif", Body: bytes.NewReader(image)}
	}
	return in
}

func TestClientRoundTripInlineImages(t *testing.T) {
	client := startAPI(t, apiserver.Options{})
	ctx := context.Background()

	if err := client.Create(ctx, subjectInput("SICP", gifPixel)); err != nil {
		t.Fatalf("create: %v", err)
	}

	items, err := client.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 record, got %d", len(items))
	}
	rec := items[0]
	if rec.Get("course") != "SICP" || rec.Get("price") != "55" {
		t.Fatalf("unexpected values: %v", rec.Values)
	}
	if rec.Image == nil || !bytes.Equal(rec.Image.Data, gifPixel) || rec.Image.ContentType != "image/gif" {
		t.Fatalf("image bytes did not survive the round trip: %+v", rec.Image)
	}
	if rec.UploadedAt.IsZero() {
		t.Fatal("uploadedAt not decoded")
	}

	if err := client.Update(ctx, rec.ID, subjectInput("SICP, 2nd ed.", nil)); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := client.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Get("course") != "SICP, 2nd ed." || got.Image == nil {
		t.Fatalf("update lost data: %+v", got)
	}

	if err := client.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := client.Get(ctx, rec.ID); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestClientRoundTripDiskImagesAndEnvelope(t *testing.T) {
	client := startAPI(t, apiserver.Options{
		Images:       apiserver.ImagesOnDisk,
		UploadDir:    t.TempDir(),
		ListEnvelope: true,
	})
	ctx := context.Background()

	if err := client.Create(ctx, subjectInput("SICP", gifPixel)); err != nil {
		t.Fatalf("create: %v", err)
	}
	items, err := client.List(ctx)
	if err != nil || len(items) != 1 {
		t.Fatalf("list: %d items, err %v", len(items), err)
	}

	img := items[0].Image
	if img == nil || img.URL == "" {
		t.Fatalf("expected an absolute image URL, got %+v", img)
	}
	resp, err := http.Get(img.URL)
	if err != nil {
		t.Fatalf("fetch image: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("image url returned %d", resp.StatusCode)
	}
}

func TestClientSurfacesValidationError(t *testing.T) {
	client := startAPI(t, apiserver.Options{})

	in := subjectInput("SICP", nil)
	in.Values["price"] = "cheap"
	err := client.Create(context.Background(), in)
	if err == nil {
		t.Fatal("expected an error")
	}
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("client should validate before sending, got %v", err)
	}
}
