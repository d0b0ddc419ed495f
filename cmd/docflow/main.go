package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Lllllllleong/academicdocflow/internal/config"
	"github.com/Lllllllleong/academicdocflow/internal/gcp"
	"github.com/Lllllllleong/academicdocflow/internal/models"
	"github.com/Lllllllleong/academicdocflow/internal/raster"
	"github.com/Lllllllleong/academicdocflow/internal/services"
	"github.com/Lllllllleong/academicdocflow/internal/store"
)

func main() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		var cfgErr *config.ConfigError
		switch {
		case errors.As(err, &cfgErr):
			slog.Error("Invalid configuration.", "error", err)
			os.Exit(2)
		case errors.Is(err, services.ErrRunAborted):
			slog.Error("Run aborted.", "error", err)
			os.Exit(3)
		default:
			slog.Error("Run failed.", "error", err)
			os.Exit(1)
		}
	}
}

func run() error {
	var (
		outputDir      = flag.String("o", "", "output workspace directory (default: <source name>_out)")
		configPath     = flag.String("config", "", "path to a JSON config file")
		project        = flag.String("project", "", "GCP project ID")
		region         = flag.String("region", "", "Vertex AI region")
		extractModel   = flag.String("extraction-model", "", "model for visual element extraction")
		translateModel = flag.String("translation-model", "", "model for page translation")
		optimizeModel  = flag.String("optimization-model", "", "model for the document quality pass")
		lang           = flag.String("lang", "", "target language for translation")
		dpi            = flag.Int("dpi", 0, "rasterization resolution")
		concurrency    = flag.Int("concurrency", 0, "parallel extraction workers")
		maxAttempts    = flag.Int("max-attempts", 0, "attempts per page capability call")
		abortThreshold = flag.Float64("abort-threshold", 0, "failed-page fraction that aborts the run")
		timeout        = flag.Duration("timeout", 0, "per-call capability timeout")
		noIntermediate = flag.Bool("no-intermediate", false, "skip intermediate snapshots")
		bucket         = flag.String("bucket", "", "gs:// bucket URL to mirror the workspace to")
		collection     = flag.String("collection", "", "Firestore collection for run records")
		fixPages       = flag.String("fix", "", "comma-separated page numbers to repair in an existing workspace")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <source.pdf>\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one source PDF argument")
	}
	sourcePath := flag.Arg(0)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded.", "error", err)
	}

	cfg, err := config.Load(*configPath, config.Overrides{
		Project:           *project,
		Region:            *region,
		ExtractionModel:   *extractModel,
		TranslationModel:  *translateModel,
		OptimizationModel: *optimizeModel,
		Timeout:           *timeout,
		Concurrency:       *concurrency,
		MaxAttempts:       *maxAttempts,
		AbortThreshold:    *abortThreshold,
		DPI:               *dpi,
		TargetLanguage:    *lang,
		NoIntermediate:    *noIntermediate,
		MirrorBucket:      *bucket,
		RunCollection:     *collection,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hash, err := calculateFileHash(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to hash source file: %w", err)
	}
	source := services.SourceInfo{Path: sourcePath, Hash: hash}

	root := *outputDir
	if root == "" {
		root = workspaceName(sourcePath)
	}

	var mirror *store.Mirror
	if cfg.MirrorBucket != "" {
		mirror, err = store.NewMirror(ctx, cfg.MirrorBucket)
		if err != nil {
			return err
		}
	}
	ws, err := store.Open(root, mirror, cfg.SaveIntermediate)
	if err != nil {
		return err
	}

	repair := *fixPages != ""
	var pages []models.PageImage
	if repair {
		pages, err = raster.LoadPages(ws.PagesDir(), cfg.DPI)
		if err != nil {
			return fmt.Errorf("failed to load existing page images: %w", err)
		}
	} else {
		pages, err = raster.RasterizePDF(ctx, sourcePath, ws.PagesDir(), cfg.DPI)
		if err != nil {
			return err
		}
		if err := ws.MirrorPages(ctx, pages); err != nil {
			return err
		}
	}
	slog.Info("Source prepared.",
		"source", sourcePath,
		"sourceHash", hash,
		"pageCount", len(pages),
		"workspace", root,
	)

	invoker, err := gcp.NewVertexClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer invoker.Close()

	var recorder services.RunRecorder = services.NopRecorder{}
	if cfg.RunCollection != "" {
		registry, err := gcp.NewRunRegistry(ctx, cfg.Stages[models.StageExtraction].Project, cfg.RunCollection)
		if err != nil {
			return err
		}
		defer registry.Close()
		recorder = registry
	}

	orch := services.NewOrchestrator(invoker, ws, cfg, recorder)

	start := time.Now()
	var summary *models.RunSummary
	var runErr error
	if repair {
		targets, err := parsePageList(*fixPages)
		if err != nil {
			return err
		}
		summary, runErr = orch.RepairPages(ctx, source, pages, targets)
	} else {
		summary, runErr = orch.Run(ctx, source, pages)
	}
	if summary != nil {
		slog.Info("Run finished.",
			"state", summary.State,
			"elapsed", time.Since(start).Round(time.Second).String(),
			"figures", summary.FigureCount,
			"tables", summary.TableCount,
			"repairs", len(summary.Repairs),
		)
	}
	return runErr
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func workspaceName(sourcePath string) string {
	base := sourcePath
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base + "_out"
}

func parsePageList(s string) ([]int, error) {
	var pages []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid page number %q", part)
		}
		pages = append(pages, n)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages given to repair")
	}
	return pages, nil
}
