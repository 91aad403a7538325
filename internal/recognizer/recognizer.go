// Package recognizer extracts text from images through a vision-capable
// chat model, retrying failed attempts with a growing pause.
package recognizer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/local/doctranslate/internal/ai"
	"github.com/local/doctranslate/internal/config"
	mpkg "github.com/local/doctranslate/internal/metrics"
)

const (
	DefaultMaxRetries    = 3
	defaultTimeout       = 30 * time.Second
	recognizeMaxTokens   = 4000
	translateMaxTokens   = 2000
	translateImageBudget = 60 * time.Second
)

const recognizePrompt = `Extract all the text in this image. Requirements:
1. Keep the paragraph format of the original.
2. Do not add any explanation or notes.
3. Return only the extracted text.
4. Separate paragraphs with a blank line.`

// ErrNoText is returned by an attempt whose reply carried no text.
var ErrNoText = errors.New("no text recognized in image")

// Paragraph is one recognized paragraph, numbered from 1.
type Paragraph struct {
	Index int    `json:"paragraph"`
	Text  string `json:"text"`
}

// ImageRecognitionError reports that every attempt failed. Err is the last
// attempt's error.
type ImageRecognitionError struct {
	Attempts int
	Err      error
}

func (e *ImageRecognitionError) Error() string {
	return fmt.Sprintf("image recognition failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ImageRecognitionError) Unwrap() error { return e.Err }

// Recognizer is safe for concurrent use.
type Recognizer struct {
	client    ai.Client
	languages config.Languages
	timeout   time.Duration
	// Sleep pauses between attempts; it must return early with ctx.Err()
	// when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(client ai.Client, languages config.Languages, timeout time.Duration) *Recognizer {
	if languages == nil {
		languages = config.DefaultLanguages()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Recognizer{client: client, languages: languages, timeout: timeout, Sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff is the pause after the given 1-based failed attempt: 2s, 4s, ...
func backoff(attempt int) time.Duration { return time.Duration(attempt) * 2 * time.Second }

// RecognizeWithRetry reads imagePath once and recognizes its text. A read
// failure is returned as is, without retrying.
func (r *Recognizer) RecognizeWithRetry(ctx context.Context, imagePath string, model config.Model, maxRetries int) ([]Paragraph, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return r.RecognizeBytes(ctx, data, model, maxRetries)
}

// RecognizeBytes runs up to maxRetries attempts (DefaultMaxRetries when
// maxRetries <= 0) and returns the paragraphs of the first non-empty reply.
func (r *Recognizer) RecognizeBytes(ctx context.Context, data []byte, model config.Model, maxRetries int) ([]Paragraph, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	image := ai.ImagePart(detectMIME(data), base64.StdEncoding.EncodeToString(data))
	l := zerolog.Ctx(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		paras, err := r.attempt(ctx, image, model)
		if err == nil {
			mpkg.IncImageAttempt("success")
			if attempt > 1 {
				l.Info().Int("attempt", attempt).Str("model", model.Key).Msg("image recognized after retry")
			}
			return paras, nil
		}
		mpkg.IncImageAttempt("failure")
		lastErr = err
		if attempt == maxRetries {
			break
		}
		wait := backoff(attempt)
		l.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Str("model", model.Key).Msg("image recognition failed - retrying")
		if serr := r.Sleep(ctx, wait); serr != nil {
			l.Warn().Err(serr).Int("attempts", attempt).Msg("image recognition cancelled")
			return nil, &ImageRecognitionError{Attempts: attempt, Err: errors.Join(lastErr, serr)}
		}
	}
	l.Error().Err(lastErr).Int("attempts", maxRetries).Msg("image recognition exhausted")
	return nil, &ImageRecognitionError{Attempts: maxRetries, Err: lastErr}
}

func (r *Recognizer) attempt(ctx context.Context, image ai.Part, model config.Model) ([]Paragraph, error) {
	resp, err := r.client.Do(ctx, ai.Request{
		BaseURL:   model.BaseURL,
		Model:     model.ModelID,
		Messages:  []ai.Message{{Role: "user", Parts: []ai.Part{ai.TextPart(recognizePrompt), image}}},
		MaxTokens: recognizeMaxTokens,
		Timeout:   r.timeout,
		Kind:      "vision",
	})
	if err != nil {
		return nil, err
	}
	paras := SplitParagraphs(resp.Text)
	if len(paras) == 0 {
		return nil, ErrNoText
	}
	return paras, nil
}

// SplitParagraphs splits on blank lines and drops empty pieces. Text with no
// blank line comes back as a single paragraph.
func SplitParagraphs(text string) []Paragraph {
	pieces := nonEmpty(strings.Split(strings.TrimSpace(text), "\n\n"))
	if len(pieces) == 0 {
		return nil
	}
	out := make([]Paragraph, len(pieces))
	for i, p := range pieces {
		out[i] = Paragraph{Index: i + 1, Text: p}
	}
	return out
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func detectMIME(data []byte) string {
	m := mimetype.Detect(data)
	if strings.HasPrefix(m.String(), "image/") {
		return m.String()
	}
	return "image/jpeg"
}

// TranslateImage sends the whole image to the vision model and returns the
// translated text in one call, without retries.
func (r *Recognizer) TranslateImage(ctx context.Context, data []byte, target string, model config.Model) (string, error) {
	name := r.languages.Name(target, "中文")
	prompt := fmt.Sprintf(`Recognize all the text in this image and translate it into %s.
Requirements:
1. Recognize every piece of text (titles, body, labels).
2. Keep the layout and the paragraph order of the original.
3. Keep technical terms, variable names and identifiers.
4. Return only the translation, without explanations.
5. Translate multiple paragraphs in order and keep them separated.`, name)

	start := time.Now()
	resp, err := r.client.Do(ctx, ai.Request{
		BaseURL:     model.BaseURL,
		Model:       model.ModelID,
		Messages:    []ai.Message{{Role: "user", Parts: []ai.Part{ai.TextPart(prompt), ai.ImagePart(detectMIME(data), base64.StdEncoding.EncodeToString(data))}}},
		Temperature: ai.Temperature(0.3),
		MaxTokens:   translateMaxTokens,
		Timeout:     translateImageBudget,
		Kind:        "vision",
	})
	result := "success"
	if err != nil {
		result = "error"
	}
	mpkg.ObserveProvider(model.Key, "vision", result, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("translate image: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
