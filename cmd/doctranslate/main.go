// doctranslate translates documents from the command line with the same
// pipeline the HTTP server uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/local/doctranslate/internal/app"
	"github.com/local/doctranslate/internal/batch"
	"github.com/local/doctranslate/internal/config"
	"github.com/local/doctranslate/internal/export"
	"github.com/local/doctranslate/internal/extract"
	"github.com/local/doctranslate/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
)

var verbose bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "doctranslate",
		Short: "Translate documents through an OpenAI-compatible endpoint",
		Long: `doctranslate extracts the text of a document (txt, pdf, doc/docx, images),
translates it in concurrent batches and exports the translation as txt or docx.

Configuration comes from the environment (and a .env file if present), the
same variables the HTTP server reads: API_KEY, API_BASE_URL, BATCH_SIZE,
MAX_WORKERS, MODELS_FILE and friends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		newTranslateCmd(),
		newRecognizeCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and wires the pipeline. The CLI logs to stderr
// only.
func setup(ctx context.Context) (*app.App, error) {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	opts := logger.FromConfig(cfg)
	opts.File = ""
	opts.Pretty = true
	opts.Console = os.Stderr
	opts.Level = "warn"
	if verbose {
		opts.Level = "debug"
	}
	if err := logger.Init(opts); err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		target, source, model, format, out string
		toS3                               bool
	)
	cmd := &cobra.Command{
		Use:   "translate <file>",
		Short: "Translate a document and export the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != export.FormatText && format != export.FormatDocx {
				return fmt.Errorf("unsupported format %q (want txt or docx)", format)
			}
			ctx, cancel := signalContext()
			defer cancel()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer logger.Close()

			path := args[0]
			st, err := os.Stat(path)
			if err != nil {
				return err
			}
			policy := extract.Policy{AllowedExtensions: a.Config.Upload.AllowedExtensions, MaxBytes: a.Config.Upload.MaxBytes}
			if err := policy.Check(path, st.Size()); err != nil {
				return err
			}

			doc, err := a.Extractor.Extract(ctx, path, filepath.Base(path))
			if err != nil {
				return err
			}
			if target == "" {
				target = a.Config.Translation.DefaultTarget
			}
			started := time.Now()
			items, err := a.Coordinator.TranslateAll(ctx, doc.Units, a.JobRequest(target, source, model))
			if err != nil {
				return err
			}
			failed := 0
			for _, it := range items {
				if it.Translation == a.Dispatcher.Sentinel() {
					failed++
				}
			}

			paras, err := paragraphs(doc, items, format)
			if err != nil {
				return err
			}
			var data []byte
			switch format {
			case export.FormatDocx:
				opts := export.DocxOptions{}
				if !doc.HasFormat {
					opts.Title = "译文"
				}
				if data, err = export.Docx(paras, opts); err != nil {
					return err
				}
			default:
				data = export.Text(paras, time.Now())
			}

			name := export.FileName(extract.FileStem(path), format)
			if toS3 {
				if a.Store == nil {
					return fmt.Errorf("EXPORT_S3_BUCKET is not set")
				}
				ct := export.ContentTypeText
				if format == export.FormatDocx {
					ct = export.ContentTypeDocx
				}
				loc, err := a.Store.PutExport(ctx, name, data, ct)
				if err != nil {
					return err
				}
				fmt.Println(loc)
			} else {
				if out == "" {
					out = filepath.Join(filepath.Dir(path), name)
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Println(out)
			}
			fmt.Fprintf(os.Stderr, "%d units translated in %s, %d failed\n", len(items), time.Since(started).Round(time.Millisecond), failed)
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "Target language code (default DEFAULT_TARGET_LANG)")
	cmd.Flags().StringVarP(&source, "source", "s", "auto", "Source language code")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model key from the registry")
	cmd.Flags().StringVarP(&format, "format", "f", export.FormatText, "Export format: txt or docx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default next to the input)")
	cmd.Flags().BoolVar(&toS3, "s3", false, "Upload the export to EXPORT_S3_BUCKET instead of writing a file")
	return cmd
}

// paragraphs rebuilds formatted documents from their translated HTML, the
// way the server exports them.
func paragraphs(doc *extract.Document, items []batch.TranslatedUnit, format string) ([]export.Paragraph, error) {
	if !doc.HasFormat {
		return export.FromUnits(items), nil
	}
	translated := extract.RenderTranslatedHTML(items)
	if format == export.FormatText {
		text, err := extract.PlainText(translated)
		if err != nil {
			return nil, err
		}
		return []export.Paragraph{{Text: text}}, nil
	}
	blocks, err := extract.Blocks(translated)
	if err != nil {
		return nil, err
	}
	return export.FromBlocks(blocks), nil
}

// ---------------------------------------------------------------------------
// recognize
// ---------------------------------------------------------------------------

func newRecognizeCmd() *cobra.Command {
	var (
		model   string
		retries int
	)
	cmd := &cobra.Command{
		Use:   "recognize <image>",
		Short: "Print the paragraphs recognized in an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer logger.Close()

			if retries <= 0 {
				retries = a.Config.Translation.ImageMaxRetries
			}
			paras, err := a.Recognizer.RecognizeWithRetry(ctx, args[0], a.Registry.Resolve(model), retries)
			if err != nil {
				return err
			}
			for _, p := range paras {
				fmt.Printf("[%d] %s\n", p.Index, strings.TrimSpace(p.Text))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Vision model key from the registry")
	cmd.Flags().IntVar(&retries, "retries", 0, "Attempts before giving up (default IMAGE_MAX_RETRIES)")
	return cmd
}

// ---------------------------------------------------------------------------
// status
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the configured dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			defer logger.Close()

			sum := a.Checker.Summary(ctx)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(sum); err != nil {
				return err
			}
			if !sum.Ready() {
				return fmt.Errorf("not ready")
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("doctranslate %s (%s)\n", version, commit)
		},
	}
}
