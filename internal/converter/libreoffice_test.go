package converter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeSoffice writes a script that behaves like `libreoffice --convert-to pdf`.
func fakeSoffice(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "soffice")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

const convertOK = `out=""; prev=""; last=""
for a in "$@"; do
  if [ "$prev" = "--outdir" ]; then out="$a"; fi
  prev="$a"; last="$a"
done
name=$(basename "$last"); name="${name%.*}"
echo "%PDF-1.4" > "$out/$name.pdf"`

func input(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "report.docx")
	if err := os.WriteFile(p, []byte("not really docx"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestConvertToPDF(t *testing.T) {
	l := NewLibreOffice(1, 5*time.Second)
	l.binary = fakeSoffice(t, convertOK)
	out := t.TempDir()
	pdf, err := l.ConvertToPDF(context.Background(), input(t), out)
	if err != nil {
		t.Fatal(err)
	}
	if pdf != filepath.Join(out, "report.pdf") {
		t.Fatalf("pdf = %s", pdf)
	}
}

func TestConvertToPDFProtected(t *testing.T) {
	l := NewLibreOffice(1, 5*time.Second)
	l.binary = fakeSoffice(t, `echo "Error: source file could not be loaded (password required)"; exit 1`)
	_, err := l.ConvertToPDF(context.Background(), input(t), t.TempDir())
	var ce *ConversionError
	if !errors.As(err, &ce) || !errors.Is(err, ErrProtected) {
		t.Fatalf("err = %v", err)
	}
}

func TestConvertToPDFMissingOutput(t *testing.T) {
	l := NewLibreOffice(1, 5*time.Second)
	l.binary = fakeSoffice(t, `exit 0`)
	_, err := l.ConvertToPDF(context.Background(), input(t), t.TempDir())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v", err)
	}
}

func TestConvertToPDFTimeout(t *testing.T) {
	l := NewLibreOffice(1, 100*time.Millisecond)
	l.binary = fakeSoffice(t, `exec sleep 5`)
	_, err := l.ConvertToPDF(context.Background(), input(t), t.TempDir())
	var ce *ConversionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v", err)
	}
}

func TestConvertToPDFRejectsEmptyInput(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.doc")
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewLibreOffice(1, 0).ConvertToPDF(context.Background(), p, t.TempDir())
	var ce *ConversionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v", err)
	}
}

func TestConvertWaitsForFreeSlot(t *testing.T) {
	l := NewLibreOffice(1, 5*time.Second)
	l.binary = fakeSoffice(t, convertOK)
	if err := l.slots.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer l.slots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p := filepath.Join(t.TempDir(), "busy.docx")
	os.WriteFile(p, []byte("x"), 0o644)
	if _, err := l.ConvertToPDF(ctx, p, t.TempDir()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
