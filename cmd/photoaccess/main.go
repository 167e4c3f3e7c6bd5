// Command photoaccess uploads photos to a gallery and resolves or downloads them
// through presigned URLs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/galleryio/go-photoaccess/config"
	"github.com/galleryio/go-photoaccess/download"
	"github.com/galleryio/go-photoaccess/network"
	"github.com/galleryio/go-photoaccess/storage"
	"github.com/galleryio/go-photoaccess/upload"
	"github.com/galleryio/go-photoaccess/urlcache"
	"github.com/galleryio/go-photoaccess/urlsource"
)

const usage = `usage: photoaccess <command> [flags] [args]

commands:
  upload   -gallery ID [-retry] PATTERN...   upload photos matching the path patterns
  url      [-gallery ID] PHOTO...            print presigned read URLs
  download [-gallery ID] [-dir DIR] PHOTO... download photos

configuration is read from PHOTOACCESS_* environment variables`

func main() {
	logger := log.NewLogger()
	if err := run(os.Args[1:], logger); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(args []string, logger log.Logger) error {
	if len(args) < 1 {
		return errors.New(usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.EnableDebugLog(cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := network.NewClient(cfg.ClientParams(), logger)
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}

	switch args[0] {
	case "upload":
		return runUpload(ctx, cfg, client, args[1:], logger)
	case "url":
		return runURL(ctx, cfg, client, args[1:], logger)
	case "download":
		return runDownload(ctx, cfg, client, args[1:], logger)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func runUpload(ctx context.Context, cfg *config.Config, client *network.Client, args []string, logger log.Logger) error {
	flags := flag.NewFlagSet("upload", flag.ContinueOnError)
	galleryID := flags.String("gallery", "", "gallery to upload into")
	retryFailed := flags.Bool("retry", false, "retry retryable failures once")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *galleryID == "" {
		return errors.New("-gallery is required")
	}

	collector := upload.NewFileCollector(pathutil.NewPathModifier(), logger)
	files, err := collector.CollectFiles(flags.Args())
	if err != nil {
		return fmt.Errorf("collect files: %w", err)
	}
	if len(files) == 0 {
		logger.Warnf("No photos matched %v", flags.Args())
		return nil
	}

	uploader := storage.New(cfg.StorageConfig(), logger)
	defer uploader.CloseIdleConnections()
	orchestrator := upload.NewOrchestrator(client, uploader, cfg.UploadConfig(), logger)

	report, err := orchestrator.Submit(ctx, *galleryID, files, progressLogger(logger))
	if err != nil {
		return err
	}
	if *retryFailed && len(report.RetryCandidates()) > 0 && ctx.Err() == nil {
		logger.Infof("Retrying %d photos", len(report.RetryCandidates()))
		retried, err := orchestrator.Retry(ctx, *galleryID, report, progressLogger(logger))
		if err != nil {
			return err
		}
		report = mergeReports(report, retried)
	}

	printReport(report, logger)
	if report.FailedCount > 0 {
		return fmt.Errorf("%d of %d photos failed", report.FailedCount, report.TotalFiles)
	}
	if report.CancelledCount > 0 {
		return fmt.Errorf("upload cancelled, %d photos not uploaded", report.CancelledCount)
	}
	return nil
}

// mergeReports replaces the retried results of previous with the outcome of the retry.
func mergeReports(previous, retried upload.Report) upload.Report {
	merged := upload.Report{
		RunID:          retried.RunID,
		TotalFiles:     previous.TotalFiles,
		SuccessCount:   previous.SuccessCount + retried.SuccessCount,
		FailedCount:    previous.FailedCount - retried.TotalFiles + retried.FailedCount,
		CancelledCount: previous.CancelledCount + retried.CancelledCount,
	}
	for _, result := range previous.Results {
		if result.Success || !result.Retryable {
			merged.Results = append(merged.Results, result)
		}
	}
	merged.Results = append(merged.Results, retried.Results...)
	return merged
}

func progressLogger(logger log.Logger) upload.ProgressFunc {
	lastStep := -1
	return func(p upload.Progress) {
		if step := int(p.Percent) / 10; step > lastStep {
			lastStep = step
			logger.Printf("%3.0f%%", p.Percent)
		}
	}
}

func printReport(report upload.Report, logger log.Logger) {
	logger.Println()
	for _, result := range report.Results {
		if result.Success {
			logger.Donef("%s -> %s", result.Filename, result.PhotoID)
			continue
		}
		hint := ""
		if result.Retryable {
			hint = " (retryable)"
		}
		logger.Errorf("%s: %s%s", result.Filename, result.Error, hint)
	}
	logger.Infof("%d uploaded, %d failed, %d cancelled of %d", report.SuccessCount, report.FailedCount, report.CancelledCount, report.TotalFiles)
}

func runURL(ctx context.Context, cfg *config.Config, client *network.Client, args []string, logger log.Logger) error {
	flags := flag.NewFlagSet("url", flag.ContinueOnError)
	galleryID := flags.String("gallery", "", "gallery the photos belong to, empty for direct access")
	if err := flags.Parse(args); err != nil {
		return err
	}

	resolver, err := newResolver(ctx, cfg, client, logger)
	if err != nil {
		return err
	}

	pending := make([]<-chan urlcache.Result, 0, flags.NArg())
	for _, photoID := range flags.Args() {
		pending = append(pending, resolver.Resolve(ctx, urlcache.Key{Collection: *galleryID, Resource: photoID}))
	}

	var failed int
	for i, results := range pending {
		result := <-results
		if result.Err != nil {
			logger.Errorf("%s: %s", flags.Arg(i), result.Err)
			failed++
			continue
		}
		fmt.Println(result.URL)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d URLs could not be resolved", failed, flags.NArg())
	}
	return nil
}

func runDownload(ctx context.Context, cfg *config.Config, client *network.Client, args []string, logger log.Logger) error {
	flags := flag.NewFlagSet("download", flag.ContinueOnError)
	galleryID := flags.String("gallery", "", "gallery the photos belong to, empty for direct access")
	dir := flags.String("dir", ".", "directory to download into")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := os.MkdirAll(*dir, 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	resolver, err := newResolver(ctx, cfg, client, logger)
	if err != nil {
		return err
	}
	downloader := download.NewDownloader(resolver, logger)

	for _, photoID := range flags.Args() {
		path, err := downloader.Download(ctx, urlcache.Key{Collection: *galleryID, Resource: photoID}, *dir)
		if err != nil {
			return err
		}
		logger.Donef("%s -> %s", photoID, path)
	}
	return nil
}

// newResolver wires the URL cache to the configured source. Only the gallery API
// can list a whole collection, so direct bucket signing never batch loads.
func newResolver(ctx context.Context, cfg *config.Config, client *network.Client, logger log.Logger) (*urlcache.Resolver, error) {
	cache := urlcache.NewCache(cfg.Cache.SafetyBuffer, logger)
	if cfg.Cache.SweepInterval > 0 {
		go cache.RunSweeper(ctx, cfg.Cache.SweepInterval)
	}

	var fetcher urlcache.Fetcher
	var loader *urlcache.BatchLoader
	switch cfg.URLSource {
	case config.SourceS3:
		source, err := urlsource.NewS3Source(ctx, cfg.S3Params(), logger)
		if err != nil {
			return nil, fmt.Errorf("create s3 url source: %w", err)
		}
		fetcher = source
	case config.SourceMinio:
		source, err := urlsource.NewMinioSource(cfg.MinioParams(), logger)
		if err != nil {
			return nil, fmt.Errorf("create minio url source: %w", err)
		}
		fetcher = source
	default:
		api := urlsource.NewAPI(client)
		fetcher = api
		loader = urlcache.NewBatchLoader(api, cache, cfg.BatchConfig(), logger)
	}

	return urlcache.NewResolver(cache, loader, fetcher, cfg.Cache.FetchTimeout, logger), nil
}
