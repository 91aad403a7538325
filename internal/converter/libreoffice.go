// Package converter turns word-processing documents into PDF with a
// headless LibreOffice so they can share the PDF extraction path.
package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const defaultTimeout = 180 * time.Second

// ErrProtected is returned for password-protected documents.
var ErrProtected = errors.New("document is password protected")

// ConversionError describes a failed conversion; Output holds whatever
// LibreOffice printed.
type ConversionError struct {
	Input  string
	Output string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("convert %s: %v: %s", filepath.Base(e.Input), e.Err, strings.TrimSpace(e.Output))
	}
	return fmt.Sprintf("convert %s: %v", filepath.Base(e.Input), e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// LibreOffice runs one soffice process per conversion, each with its own
// throwaway profile, with at most maxWorkers at a time.
type LibreOffice struct {
	binary    string
	timeout   time.Duration
	slots     *semaphore.Weighted
}

func NewLibreOffice(maxWorkers int, timeout time.Duration) *LibreOffice {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &LibreOffice{binary: "libreoffice", timeout: timeout, slots: semaphore.NewWeighted(int64(maxWorkers))}
}

// Available reports whether the LibreOffice binary is on PATH.
func (l *LibreOffice) Available() error {
	if _, err := exec.LookPath(l.binary); err != nil {
		return fmt.Errorf("LibreOffice not found in PATH: %w", err)
	}
	return nil
}

// ConvertToPDF converts inputPath into outputDir and returns the PDF path.
func (l *LibreOffice) ConvertToPDF(ctx context.Context, inputPath, outputDir string) (string, error) {
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer l.slots.Release(1)
	start := time.Now()

	if err := validateInput(inputPath); err != nil {
		return "", &ConversionError{Input: inputPath, Err: err}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	profileDir := filepath.Join(os.TempDir(), "libreoffice_profile_"+uuid.New().String())
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	defer os.RemoveAll(profileDir)

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, l.binary,
		"-env:UserInstallation=file://"+profileDir,
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outputDir,
		inputPath,
	)
	log.Debug().Str("cmd", strings.Join(cmd.Args, " ")).Msg("LibreOffice command")

	out, err := cmd.CombinedOutput()
	if cctx.Err() == context.DeadlineExceeded {
		return "", &ConversionError{Input: inputPath, Err: fmt.Errorf("timeout after %v", l.timeout)}
	}
	if err != nil {
		if looksProtected(out) {
			return "", &ConversionError{Input: inputPath, Output: string(out), Err: ErrProtected}
		}
		return "", &ConversionError{Input: inputPath, Output: string(out), Err: err}
	}

	pdf := expectedOutputPath(inputPath, outputDir)
	if _, err := os.Stat(pdf); err != nil {
		if looksProtected(out) {
			err = ErrProtected
		}
		return "", &ConversionError{Input: inputPath, Output: string(out), Err: err}
	}
	log.Info().Str("input", filepath.Base(inputPath)).Str("output", pdf).Dur("duration", time.Since(start)).Msg("conversion successful")
	return pdf, nil
}

func validateInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return errors.New("path is a directory, not a file")
	}
	if info.Size() == 0 {
		return errors.New("file is empty")
	}
	return nil
}

func looksProtected(out []byte) bool {
	s := strings.ToLower(string(out))
	return strings.Contains(s, "password") || strings.Contains(s, "encrypted")
}

func expectedOutputPath(inputPath, outputDir string) string {
	base := filepath.Base(inputPath)
	return filepath.Join(outputDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
}
