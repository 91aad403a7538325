// Package server exposes extraction, translation and export over HTTP.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/local/doctranslate/internal/batch"
	"github.com/local/doctranslate/internal/config"
	"github.com/local/doctranslate/internal/dispatcher"
	"github.com/local/doctranslate/internal/export"
	"github.com/local/doctranslate/internal/extract"
	"github.com/local/doctranslate/internal/logger"
	mpkg "github.com/local/doctranslate/internal/metrics"
	"github.com/local/doctranslate/internal/statuscheck"
)

// ImageTranslator translates a whole image in one call.
type ImageTranslator interface {
	TranslateImage(ctx context.Context, data []byte, target string, model config.Model) (string, error)
}

// ExportStore receives exports when the client asks for remote delivery.
type ExportStore interface {
	PutExport(ctx context.Context, fileName string, data []byte, contentType string) (string, error)
}

// Deps wires the server. Store and Checker are optional.
type Deps struct {
	Config      config.Config
	Registry    *config.Registry
	Languages   config.Languages
	Dispatcher  *dispatcher.Dispatcher
	Coordinator *dispatcher.Coordinator
	Images      ImageTranslator
	Extractor   *extract.Extractor
	Store       ExportStore
	Checker     *statuscheck.Checker
	Now         func() time.Time
}

type Server struct {
	deps   Deps
	policy extract.Policy
}

func New(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Languages == nil {
		deps.Languages = config.DefaultLanguages()
	}
	return &Server{
		deps: deps,
		policy: extract.Policy{
			AllowedExtensions: deps.Config.Upload.AllowedExtensions,
			MaxBytes:          deps.Config.Upload.MaxBytes,
			MaxPDFPages:       deps.Config.Upload.MaxPDFPages,
		},
	}
}

// RegisterRoutes attaches every endpoint to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", mpkg.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/languages", s.handleLanguages)
	mux.HandleFunc("/models", s.handleModels)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/translate", s.handleTranslate)
	mux.HandleFunc("/translate-single", s.handleTranslateSingle)
	mux.HandleFunc("/translate_image", s.handleTranslateImage)
	mux.HandleFunc("/export", s.handleExport)
}

// Handler returns a mux with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// startJob tags the request with a fresh job id. Work started for a request
// is not cancelled when the client goes away.
func (s *Server) startJob(w http.ResponseWriter, r *http.Request, endpoint string) (context.Context, *zerolog.Logger) {
	jobID := uuid.NewString()
	w.Header().Set("X-Job-ID", jobID)
	ctx := logger.WithJob(context.WithoutCancel(r.Context()), jobID)
	l := zerolog.Ctx(ctx)
	l.Info().Str("endpoint", endpoint).Str("remote", r.RemoteAddr).Msg("request received")
	return ctx, l
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Checker == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ready": true})
		return
	}
	sum := s.deps.Checker.Summary(r.Context())
	status := http.StatusOK
	if !sum.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": sum.Ready(), "services": sum})
}

type language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	codes := s.deps.Languages.Codes()
	out := make([]language, 0, len(codes))
	for _, c := range codes {
		out = append(out, language{Code: c, Name: s.deps.Languages[c]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default": s.deps.Registry.Default().Key,
		"models":  s.deps.Registry.List(),
	})
}

type uploadResponse struct {
	Success   bool         `json:"success"`
	Content   []batch.Unit `json:"content"`
	HTML      string       `json:"html_content,omitempty"`
	Filename  string       `json:"filename"`
	HasFormat bool         `json:"has_format"`
	FileType  string       `json:"file_type"`
	Pages     int          `json:"pages,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, l := s.startJob(w, r, "upload")

	if s.policy.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.policy.MaxBytes+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		mpkg.IncJob("upload", "bad_request")
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		mpkg.IncJob("upload", "bad_request")
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()
	name := filepath.Base(hdr.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		mpkg.IncJob("upload", "bad_request")
		writeError(w, http.StatusBadRequest, "no file selected")
		return
	}
	if err := s.policy.Check(name, hdr.Size); err != nil {
		l.Warn().Err(err).Str("file", name).Msg("upload refused")
		mpkg.IncJob("upload", "bad_request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, err := s.save(file, name)
	if err != nil {
		l.Error().Err(err).Msg("failed to store upload")
		mpkg.IncJob("upload", "error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.Remove(path)

	doc, err := s.deps.Extractor.Extract(ctx, path, name)
	if err != nil {
		var le *extract.LimitError
		if errors.As(err, &le) {
			mpkg.IncJob("upload", "bad_request")
			writeError(w, http.StatusBadRequest, le.Reason)
			return
		}
		l.Error().Err(err).Str("file", name).Msg("extraction failed")
		mpkg.IncJob("upload", "error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	mpkg.IncJob("upload", "ok")
	resp := uploadResponse{
		Success:   true,
		Content:   doc.Units,
		Filename:  name,
		HasFormat: doc.HasFormat,
		FileType:  doc.FileType,
		Pages:     doc.Pages,
	}
	if doc.HasFormat {
		resp.HTML = doc.HTML
	}
	writeJSON(w, http.StatusOK, resp)
}

// save copies the upload under a random name that keeps its extension.
func (s *Server) save(src io.Reader, name string) (string, error) {
	dir := s.deps.Config.Upload.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return path, nil
}

type translateRequest struct {
	Content    []batch.Unit `json:"content"`
	TargetLang string       `json:"target_lang"`
	SourceLang string       `json:"source_lang"`
	AIModel    string       `json:"ai_model"`
	HTML       string       `json:"html_content"`
}

type translateResponse struct {
	Success           bool                   `json:"success"`
	TranslatedContent []batch.TranslatedUnit `json:"translated_content"`
	TranslatedHTML    *string                `json:"translated_html"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, l := s.startJob(w, r, "translate")

	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == nil {
		mpkg.IncJob("translate", "bad_request")
		writeError(w, http.StatusBadRequest, "missing content")
		return
	}
	target, source := s.langs(req.TargetLang, req.SourceLang)
	model := s.deps.Registry.Resolve(req.AIModel)
	l.Info().Int("units", len(req.Content)).Str("target", target).Str("source", source).Str("model", model.Key).Msg("translation job started")

	items, err := s.deps.Coordinator.TranslateAll(ctx, req.Content, dispatcher.JobRequest{
		Target:     target,
		Source:     source,
		BatchSize:  s.deps.Config.Translation.BatchSize,
		MaxWorkers: s.deps.Config.Translation.MaxWorkers,
		Model:      model,
	})
	if err != nil {
		l.Error().Err(err).Msg("translation job failed")
		mpkg.IncJob("translate", "error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := translateResponse{Success: true, TranslatedContent: items}
	if req.HTML != "" {
		byID := make(map[string]string, len(items))
		for _, it := range items {
			if it.ID != "" {
				byID[it.ID] = it.Translation
			}
		}
		if out, err := extract.ReplaceByID(req.HTML, byID); err != nil {
			l.Warn().Err(err).Msg("could not rebuild translated html")
		} else {
			resp.TranslatedHTML = &out
		}
	}
	mpkg.IncJob("translate", "ok")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) langs(target, source string) (string, string) {
	if target == "" {
		target = s.deps.Config.Translation.DefaultTarget
	}
	if target == "" {
		target = "zh-CN"
	}
	if source == "" {
		source = "auto"
	}
	return target, source
}

type singleRequest struct {
	Text       *string `json:"text"`
	TargetLang string  `json:"target_lang"`
	SourceLang string  `json:"source_lang"`
	AIModel    string  `json:"ai_model"`
}

func (s *Server) handleTranslateSingle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, l := s.startJob(w, r, "translate_single")

	var req singleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == nil {
		mpkg.IncJob("translate_single", "bad_request")
		writeError(w, http.StatusBadRequest, "missing text")
		return
	}
	target, source := s.langs(req.TargetLang, req.SourceLang)
	out, err := s.deps.Dispatcher.TranslateText(ctx, *req.Text, target, source, s.deps.Registry.Resolve(req.AIModel))
	if err != nil {
		l.Error().Err(err).Msg("single translation failed")
		mpkg.IncJob("translate_single", "error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	mpkg.IncJob("translate_single", "ok")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "translation": out})
}

type imageRequest struct {
	ImageBase64 string `json:"image_base64"`
	TargetLang  string `json:"target_lang"`
	AIModel     string `json:"ai_model"`
}

func (s *Server) handleTranslateImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, l := s.startJob(w, r, "translate_image")

	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ImageBase64 == "" {
		mpkg.IncJob("translate_image", "bad_request")
		writeError(w, http.StatusBadRequest, "missing image data")
		return
	}
	data, err := decodeImage(req.ImageBase64)
	if err != nil {
		mpkg.IncJob("translate_image", "bad_request")
		writeError(w, http.StatusBadRequest, "invalid image data")
		return
	}
	if s.deps.Images == nil {
		mpkg.IncJob("translate_image", "error")
		writeError(w, http.StatusInternalServerError, "image translation is not configured")
		return
	}
	target, _ := s.langs(req.TargetLang, "")
	out, err := s.deps.Images.TranslateImage(ctx, data, target, s.deps.Registry.Resolve(req.AIModel))
	if err != nil {
		l.Error().Err(err).Msg("image translation failed")
		mpkg.IncJob("translate_image", "error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	mpkg.IncJob("translate_image", "ok")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "translation": out})
}

// decodeImage accepts raw base64 or a data: URL.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

type exportRequest struct {
	Content        []batch.TranslatedUnit `json:"content"`
	Format         string                 `json:"format"`
	Filename       string                 `json:"filename"`
	HasFormat      bool                   `json:"has_format"`
	TranslatedHTML string                 `json:"translated_html"`
	Destination    string                 `json:"destination"`
}

// exportParagraphs picks the export body. A formatted txt export is the
// text of the translated HTML; a formatted docx keeps its block structure.
func exportParagraphs(req exportRequest, formatted bool) ([]export.Paragraph, error) {
	if !formatted {
		return export.FromUnits(req.Content), nil
	}
	if req.Format == export.FormatText {
		text, err := extract.PlainText(req.TranslatedHTML)
		if err != nil {
			return nil, err
		}
		return []export.Paragraph{{Text: text}}, nil
	}
	blocks, err := extract.Blocks(req.TranslatedHTML)
	if err != nil {
		return nil, err
	}
	return export.FromBlocks(blocks), nil
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, l := s.startJob(w, r, "export")

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == nil {
		mpkg.IncJob("export", "bad_request")
		writeError(w, http.StatusBadRequest, "missing content")
		return
	}
	if req.Format == "" {
		req.Format = export.FormatText
	}

	formatted := req.HasFormat && req.TranslatedHTML != ""
	paras, err := exportParagraphs(req, formatted)
	if err != nil {
		mpkg.IncJob("export", "bad_request")
		writeError(w, http.StatusBadRequest, "invalid translated_html")
		return
	}

	var (
		data        []byte
		contentType string
	)
	switch req.Format {
	case export.FormatText:
		data, contentType = export.Text(paras, s.deps.Now()), export.ContentTypeText
	case export.FormatDocx:
		opts := export.DocxOptions{}
		if !formatted {
			opts.Title = "译文"
		}
		data, err = export.Docx(paras, opts)
		contentType = export.ContentTypeDocx
	default:
		mpkg.IncJob("export", "bad_request")
		writeError(w, http.StatusBadRequest, "unsupported export format")
		return
	}
	if err != nil {
		l.Error().Err(err).Msg("export failed")
		mpkg.IncJob("export", "error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	name := export.FileName(extract.FileStem(req.Filename), req.Format)
	if req.Destination == "s3" {
		if s.deps.Store == nil {
			mpkg.IncJob("export", "bad_request")
			writeError(w, http.StatusBadRequest, "s3 export is not configured")
			return
		}
		loc, err := s.deps.Store.PutExport(ctx, name, data, contentType)
		if err != nil {
			l.Error().Err(err).Msg("s3 export failed")
			mpkg.IncJob("export", "error")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		l.Info().Str("location", loc).Msg("export stored")
		mpkg.IncJob("export", "ok")
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "location": loc})
		return
	}

	mpkg.IncJob("export", "ok")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
