// Package upload turns a list of local photos into confirmed photo records by
// requesting presigned descriptors in batches, writing each file directly to storage
// and confirming every batch with the backend.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/galleryio/go-photoaccess/network"
	"github.com/galleryio/go-photoaccess/storage"
	"github.com/galleryio/go-photoaccess/uploaderr"
	"github.com/google/uuid"
)

// IntentClient issues upload descriptors and records upload outcomes.
type IntentClient interface {
	RequestIntent(ctx context.Context, galleryID string, file network.FileMeta) (network.Intent, error)
	RequestBatchIntents(ctx context.Context, galleryID string, files []network.FileMeta) ([]network.IntentResult, error)
	ConfirmUpload(ctx context.Context, galleryID, photoID string) error
	ConfirmBatch(ctx context.Context, galleryID string, items []network.Confirmation) error
}

// StorageUploader writes one file to storage.
type StorageUploader interface {
	Upload(ctx context.Context, desc storage.Descriptor, file storage.File, onProgress storage.ProgressFunc) error
}

// Orchestrator ...
type Orchestrator struct {
	intents  IntentClient
	uploader StorageUploader
	config   Config
	logger   log.Logger
}

// NewOrchestrator ...
func NewOrchestrator(intents IntentClient, uploader StorageUploader, config Config, logger log.Logger) *Orchestrator {
	if config.BatchSize < 1 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Orchestrator{
		intents:  intents,
		uploader: uploader,
		config:   config,
		logger:   logger,
	}
}

// Submit uploads files into the gallery. Cancelling ctx aborts in-flight writes;
// aborted files are reported as cancelled, never as failed.
func (o *Orchestrator) Submit(ctx context.Context, galleryID string, files []storage.File, onProgress ProgressFunc) (Report, error) {
	if galleryID == "" {
		return Report{}, fmt.Errorf("gallery ID is empty")
	}

	tasks := make([]*Task, 0, len(files))
	for _, file := range files {
		tasks = append(tasks, newTask(file))
	}
	return o.run(ctx, galleryID, tasks, onProgress), nil
}

// Retry resubmits the failed, retryable files of a previous report. Validation
// failures are never retried.
func (o *Orchestrator) Retry(ctx context.Context, galleryID string, previous Report, onProgress ProgressFunc) (Report, error) {
	return o.Submit(ctx, galleryID, previous.RetryCandidates(), onProgress)
}

func (o *Orchestrator) run(ctx context.Context, galleryID string, tasks []*Task, onProgress ProgressFunc) Report {
	runID := uuid.NewString()
	if len(tasks) == 0 {
		return newReport(runID, tasks)
	}

	startTime := time.Now()
	var valid []*Task
	var totalBytes int64
	for _, task := range tasks {
		if err := o.validate(task.File); err != nil {
			o.logger.Warnf("Skipping %s: %s", task.File.Name(), err)
			task.fail(err)
			continue
		}
		valid = append(valid, task)
		totalBytes += task.File.Size()
	}

	tracker := newProgressTracker(totalBytes, onProgress)
	batches := partition(valid, o.config.BatchSize)
	o.logger.Infof("Uploading %d photos (%s) in %d batches", len(valid), units.HumanSize(float64(totalBytes)), len(batches))

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			o.cancelTasks(batch, err, tracker)
			continue
		}
		o.logger.Debugf("Batch %d/%d: %d photos", i+1, len(batches), len(batch))
		o.processBatch(ctx, galleryID, batch, tracker)
	}
	tracker.complete()

	report := newReport(runID, tasks)
	o.logSummary(report, time.Since(startTime))
	return report
}

func (o *Orchestrator) validate(file storage.File) error {
	if o.config.MaxFileSize > 0 && file.Size() > o.config.MaxFileSize {
		return uploaderr.Validation("%s (%s) exceeds the maximum file size of %s",
			file.Name(), units.HumanSize(float64(file.Size())), units.HumanSize(float64(o.config.MaxFileSize)))
	}
	if file.Size() <= 0 {
		return uploaderr.Validation("%s is empty", file.Name())
	}
	if !o.config.allows(file.ContentType()) {
		return uploaderr.Validation("%s has unsupported content type %q", file.Name(), file.ContentType())
	}
	return nil
}

func partition(tasks []*Task, size int) [][]*Task {
	var batches [][]*Task
	for start := 0; start < len(tasks); start += size {
		end := start + size
		if end > len(tasks) {
			end = len(tasks)
		}
		batches = append(batches, tasks[start:end])
	}
	return batches
}

// processBatch requests descriptors, uploads and confirms one batch. It returns only
// after every task of the batch has terminated.
func (o *Orchestrator) processBatch(ctx context.Context, galleryID string, batch []*Task, tracker *progressTracker) {
	descriptors, err := o.requestDescriptors(ctx, galleryID, batch)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			o.cancelTasks(batch, ctxErr, tracker)
			return
		}
		o.logger.Errorf("Descriptor request for %d photos failed: %s", len(batch), err)
		for _, task := range batch {
			task.fail(uploaderr.Descriptor("descriptor request failed", true, err))
			tracker.finish(task)
		}
		return
	}

	var ready []*Task
	for _, task := range batch {
		if task.terminated() {
			tracker.finish(task)
			continue
		}
		ready = append(ready, task)
	}

	o.uploadTasks(ctx, ready, descriptors, tracker)
	o.confirm(ctx, galleryID, batch)
}

// requestDescriptors maps descriptors onto tasks by index. Tasks the backend
// rejected or left out are failed here; the error is returned only when the request
// itself failed.
func (o *Orchestrator) requestDescriptors(ctx context.Context, galleryID string, batch []*Task) (map[*Task]storage.Descriptor, error) {
	metas := make([]network.FileMeta, 0, len(batch))
	for _, task := range batch {
		metas = append(metas, network.FileMeta{
			Filename:    task.File.Name(),
			FileSize:    task.File.Size(),
			ContentType: task.File.ContentType(),
		})
	}

	var items []network.IntentResult
	if len(batch) == 1 {
		intent, err := o.intents.RequestIntent(ctx, galleryID, metas[0])
		if err != nil {
			return nil, err
		}
		desc := intent.Descriptor
		items = []network.IntentResult{{Success: true, PhotoID: intent.PhotoID, Descriptor: &desc}}
	} else {
		var err error
		items, err = o.intents.RequestBatchIntents(ctx, galleryID, metas)
		if err != nil {
			return nil, err
		}
	}
	if len(items) > len(batch) {
		o.logger.Warnf("Ignoring %d unexpected descriptors", len(items)-len(batch))
	}

	descriptors := make(map[*Task]storage.Descriptor, len(batch))
	for i, task := range batch {
		if i >= len(items) {
			task.fail(uploaderr.Descriptor("no descriptor issued", true, nil))
			continue
		}

		item := items[i]
		switch {
		case !item.Success:
			var reason error
			if item.Error != "" {
				reason = errors.New(item.Error)
			}
			task.fail(uploaderr.Descriptor("descriptor rejected", false, reason))
		case item.PhotoID == "" || item.Descriptor == nil || item.Descriptor.URL == "":
			task.PhotoID = item.PhotoID
			task.fail(uploaderr.Descriptor("incomplete descriptor", true, nil))
		default:
			task.PhotoID = item.PhotoID
			descriptors[task] = *item.Descriptor
		}
	}
	return descriptors, nil
}

// uploadTasks drains the batch with a fixed pool of workers.
func (o *Orchestrator) uploadTasks(ctx context.Context, tasks []*Task, descriptors map[*Task]storage.Descriptor, tracker *progressTracker) {
	queue := make(chan *Task, len(tasks))
	for _, task := range tasks {
		queue <- task
	}
	close(queue)

	workers := o.config.Concurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first := true
			for task := range queue {
				if !first && o.config.UploadPacing > 0 {
					_ = sleep(ctx, o.config.UploadPacing)
				}
				first = false

				if err := ctx.Err(); err != nil {
					task.cancel(err)
					tracker.finish(task)
					continue
				}
				o.uploadTask(ctx, task, descriptors[task], tracker)
			}
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) uploadTask(ctx context.Context, task *Task, desc storage.Descriptor, tracker *progressTracker) {
	task.Status = StatusInFlight
	size := task.File.Size()

	err := o.uploader.Upload(ctx, desc, task.File, func(percent float64) {
		tracker.update(task, int64(percent*float64(size)/100))
	})
	switch {
	case err == nil:
		task.Status = StatusConfirmed
		o.logger.Debugf("Uploaded %s as %s", task.File.Name(), task.PhotoID)
	case uploaderr.IsCancelled(err):
		task.cancel(ctx.Err())
	default:
		o.logger.Warnf("Upload of %s failed: %s", task.File.Name(), err)
		task.fail(err)
	}
	tracker.finish(task)
}

// confirm reports finished tasks of a batch. Cancelled tasks are left out. A
// single-file batch uses ConfirmUpload on success and ConfirmBatch with one failed
// item otherwise. When ctx is already done, the tasks that completed before the
// interruption are still confirmed on a detached context bounded by ConfirmTimeout.
// Confirmation is bookkeeping: failures are logged and never change a task's result.
func (o *Orchestrator) confirm(ctx context.Context, galleryID string, batch []*Task) {
	var items []network.Confirmation
	for _, task := range batch {
		if task.PhotoID == "" {
			continue
		}
		switch task.Status {
		case StatusConfirmed:
			items = append(items, network.Confirmation{PhotoID: task.PhotoID, Success: true})
		case StatusFailed:
			items = append(items, network.Confirmation{PhotoID: task.PhotoID, Success: false})
		}
	}
	if len(items) == 0 {
		return
	}

	confirmCtx := ctx
	if ctx.Err() != nil {
		// completed writes of an interrupted batch still get acknowledged
		confirmCtx = context.WithoutCancel(ctx)
	}
	confirmCtx, cancel := context.WithTimeout(confirmCtx, o.config.confirmTimeout())
	defer cancel()

	var err error
	if len(batch) == 1 && items[0].Success {
		err = o.intents.ConfirmUpload(confirmCtx, galleryID, items[0].PhotoID)
	} else {
		err = o.intents.ConfirmBatch(confirmCtx, galleryID, items)
	}
	if err != nil {
		o.logger.Warnf("%s", uploaderr.Confirmation(err))
	}
}

func (o *Orchestrator) cancelTasks(tasks []*Task, err error, tracker *progressTracker) {
	for _, task := range tasks {
		if task.terminated() {
			continue
		}
		task.cancel(err)
		tracker.finish(task)
	}
}

func (o *Orchestrator) logSummary(report Report, took time.Duration) {
	o.logger.Println()
	if report.FailedCount == 0 && report.CancelledCount == 0 {
		o.logger.Donef("Uploaded %d photos in %s", report.SuccessCount, took.Round(time.Millisecond))
	} else {
		o.logger.Warnf("Uploaded %d of %d photos in %s: %d failed, %d cancelled",
			report.SuccessCount, report.TotalFiles, took.Round(time.Millisecond), report.FailedCount, report.CancelledCount)
	}

	if s, ok := o.uploader.(interface{ Stats() *storage.Stats }); ok && s.Stats().FinishedCount() > 0 {
		stats := s.Stats()
		o.logger.Printf("Average upload time: %s (%s total)", stats.Average().Round(time.Millisecond), units.HumanSize(float64(stats.TotalBytes())))
	}
}

func (c Config) confirmTimeout() time.Duration {
	if c.ConfirmTimeout <= 0 {
		return 30 * time.Second
	}
	return c.ConfirmTimeout
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
