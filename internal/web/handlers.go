package web

import (
	"errors"
	"fmt"
	"html/template"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"catalog_project/internal/flash"
	"catalog_project/internal/models"
	"catalog_project/internal/notify"
	"catalog_project/internal/service"
	"catalog_project/internal/sheet"
)

// maxUploadSize bounds multipart bodies (image or spreadsheet).
const maxUploadSize = 10 << 20

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := pageData{}

	records, err := s.catalog.List(r.Context())
	if err != nil {
		log.Printf("Error fetching %s: %v", s.schema.Resource, err)
		data.Error = fmt.Sprintf("Could not load %ss. Please try again later.", strings.ToLower(s.schema.Noun))
	}
	data.Records = records

	// Editing pre-fills the form from the list that was just fetched.
	if id := r.URL.Query().Get("edit"); id != "" {
		found := false
		for _, rec := range records {
			if rec.ID == id {
				data.Form = formState{
					ID:      rec.ID,
					Values:  s.schema.Pick(rec.Values),
					Preview: s.previewSrc(rec),
				}
				found = true
				break
			}
		}
		if !found && err == nil {
			log.Printf("edit: %s %q not in list", s.schema.Resource, id)
		}
	}

	s.render(w, r, http.StatusOK, "index", data)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readForm(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.FormValue("id"))

	if err := s.schema.Validate(in.Values); err != nil {
		s.render(w, r, http.StatusUnprocessableEntity, "index", s.invalidForm(r, id, in, err))
		return
	}

	title := in.Values[s.schema.TitleField]
	if id != "" {
		if err := s.catalog.Update(r.Context(), id, in); err != nil {
			log.Printf("Error submitting form: %v", err)
			s.setFlash(w, r, flash.LevelError, "Error submitting form. Please try again.")
			http.Redirect(w, r, "/?edit="+url.QueryEscape(id)+"#form", http.StatusSeeOther)
			return
		}
		s.notifier.Notify(r.Context(), notify.Event{Action: notify.Updated, Resource: s.schema.Resource, Title: title})
		s.setFlash(w, r, flash.LevelInfo, s.schema.Noun+" updated successfully!")
	} else {
		if err := s.catalog.Create(r.Context(), in); err != nil {
			log.Printf("Error submitting form: %v", err)
			s.setFlash(w, r, flash.LevelError, "Error submitting form. Please try again.")
			http.Redirect(w, r, "/#form", http.StatusSeeOther)
			return
		}
		s.notifier.Notify(r.Context(), notify.Event{Action: notify.Created, Resource: s.schema.Resource, Title: title})
		s.setFlash(w, r, flash.LevelInfo, s.schema.Noun+" created successfully!")
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.checkToken(r); err != nil {
		log.Printf("form token rejected remote=%s: %v", r.RemoteAddr, err)
		http.Error(w, "invalid form token", http.StatusForbidden)
		return
	}

	id := r.PathValue("id")
	if err := s.catalog.Delete(r.Context(), id); err != nil {
		log.Printf("Error deleting %s %s: %v", s.schema.Resource, id, err)
		s.setFlash(w, r, flash.LevelError, "Error deleting "+strings.ToLower(s.schema.Noun)+".")
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	s.notifier.Notify(r.Context(), notify.Event{Action: notify.Deleted, Resource: s.schema.Resource, Title: r.FormValue("title")})
	s.setFlash(w, r, flash.LevelInfo, s.schema.Noun+" deleted successfully!")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	data := pageData{}
	records, err := s.catalog.List(r.Context())
	if err != nil {
		log.Printf("Error fetching %s: %v", s.schema.Resource, err)
		data.Error = fmt.Sprintf("Could not load %ss. Please try again later.", strings.ToLower(s.schema.Noun))
	}
	data.Records = records
	s.render(w, r, http.StatusOK, "catalog", data)
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.catalog.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			s.renderError(w, r, http.StatusNotFound, "Not found", fmt.Sprintf("%s %q does not exist.", s.schema.Noun, id))
			return
		}
		log.Printf("Error fetching %s %s: %v", s.schema.Resource, id, err)
		s.renderError(w, r, http.StatusBadGateway, "Something went wrong", "The catalog service is not available right now.")
		return
	}
	s.render(w, r, http.StatusOK, "detail", pageData{Record: rec})
}

func (s *Server) handleAddForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "add", pageData{})
}

func (s *Server) handleAddSubmit(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readForm(w, r)
	if !ok {
		return
	}

	if err := s.schema.Validate(in.Values); err != nil {
		s.render(w, r, http.StatusUnprocessableEntity, "add", s.invalidForm(r, "", in, err))
		return
	}

	if err := s.catalog.Create(r.Context(), in); err != nil {
		log.Printf("Error submitting form: %v", err)
		s.setFlash(w, r, flash.LevelError, "Error submitting form. Please try again.")
		http.Redirect(w, r, "/add", http.StatusSeeOther)
		return
	}

	s.notifier.Notify(r.Context(), notify.Event{Action: notify.Created, Resource: s.schema.Resource, Title: in.Values[s.schema.TitleField]})
	s.setFlash(w, r, flash.LevelInfo, s.schema.Noun+" created successfully!")
	http.Redirect(w, r, "/catalog", http.StatusSeeOther)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	records, err := s.catalog.List(r.Context())
	if err != nil {
		log.Printf("Error fetching %s for export: %v", s.schema.Resource, err)
		s.renderError(w, r, http.StatusBadGateway, "Export failed", "The catalog service is not available right now.")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, s.schema.Resource))
	if err := sheet.Export(w, s.schema, records); err != nil {
		log.Printf("Error exporting %s: %v", s.schema.Resource, err)
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if err := s.checkToken(r); err != nil {
		log.Printf("form token rejected remote=%s: %v", r.RemoteAddr, err)
		http.Error(w, "invalid form token", http.StatusForbidden)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.setFlash(w, r, flash.LevelError, "Choose a spreadsheet to import.")
		http.Redirect(w, r, "/#import", http.StatusSeeOther)
		return
	}
	defer file.Close()

	log.Printf("Received import upload: %s", header.Filename)

	res, err := sheet.Import(file, s.schema)
	if err != nil {
		log.Printf("Error reading import %s: %v", header.Filename, err)
		s.setFlash(w, r, flash.LevelError, "Could not read spreadsheet: "+err.Error())
		http.Redirect(w, r, "/#import", http.StatusSeeOther)
		return
	}

	imported, failed := 0, 0
	for _, in := range res.Inputs {
		if err := s.catalog.Create(r.Context(), in); err != nil {
			log.Printf("Error importing %q: %v", in.Values[s.schema.TitleField], err)
			failed++
			continue
		}
		imported++
	}

	if imported > 0 {
		s.notifier.Notify(r.Context(), notify.Event{Action: notify.Imported, Resource: s.schema.Resource, Count: imported})
	}

	level := flash.LevelInfo
	if failed > 0 {
		level = flash.LevelError
	}
	s.setFlash(w, r, level, fmt.Sprintf("Imported %d, skipped %d, failed %d.", imported, res.Skipped, failed))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// readForm parses a record form and checks its token. It writes the error
// response itself and returns ok=false when the request cannot proceed.
func (s *Server) readForm(w http.ResponseWriter, r *http.Request) (models.Input, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		log.Printf("form parse error: %v", err)
		http.Error(w, "invalid form", http.StatusBadRequest)
		return models.Input{}, false
	}
	if err := s.checkToken(r); err != nil {
		log.Printf("form token rejected remote=%s: %v", r.RemoteAddr, err)
		http.Error(w, "invalid form token", http.StatusForbidden)
		return models.Input{}, false
	}

	values := make(map[string]string, len(s.schema.Fields))
	for _, f := range s.schema.Fields {
		values[f.Key] = r.FormValue(f.Key)
	}
	in := models.Input{Values: s.schema.Pick(values)}

	file, header, err := r.FormFile("image")
	if err == nil && header.Filename != "" {
		in.Image = &models.Upload{
			Filename:    header.Filename,
			ContentType: uploadContentType(header),
			Body:        file,
		}
	}
	return in, true
}

func uploadContentType(h *multipart.FileHeader) string {
	if ct := h.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *Server) invalidForm(r *http.Request, id string, in models.Input, err error) pageData {
	data := pageData{
		Form: formState{ID: id, Values: in.Values, Error: err.Error()},
	}
	if r.URL.Path == "/records" {
		records, listErr := s.catalog.List(r.Context())
		if listErr != nil {
			log.Printf("Error fetching %s: %v", s.schema.Resource, listErr)
		}
		data.Records = records
	}
	return data
}

func (s *Server) previewSrc(rec models.Record) template.URL {
	if rec.Image == nil {
		return ""
	}
	return s.imageSrc(rec)
}
