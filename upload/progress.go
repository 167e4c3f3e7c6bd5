package upload

import "sync"

// Progress is the byte-level state of a run.
type Progress struct {
	BytesDone  int64
	BytesTotal int64
	Percent    float64
}

// ProgressFunc is called with non-decreasing progress. It is called synchronously
// from upload workers and must not block.
type ProgressFunc func(Progress)

// progressTracker counts a terminated task's whole size as done, whatever its
// outcome, plus what in-flight tasks have acknowledged so far. In-flight bytes never
// shrink when an attempt restarts, and stop one byte short of the file size until
// the task terminates, so 100% is reported only once every task is finished.
type progressTracker struct {
	mu         sync.Mutex
	total      int64
	done       int64
	inFlight   map[*Task]int64
	finished   map[*Task]bool
	last       int64
	emitted    bool
	onProgress ProgressFunc
}

func newProgressTracker(total int64, onProgress ProgressFunc) *progressTracker {
	return &progressTracker{
		total:      total,
		inFlight:   map[*Task]int64{},
		finished:   map[*Task]bool{},
		onProgress: onProgress,
	}
}

func (p *progressTracker) update(task *Task, sent int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// late reads of an aborted request body must not resurrect a finished task
	if p.finished[task] {
		return
	}
	if limit := task.File.Size() - 1; sent > limit {
		sent = limit
	}
	if sent <= p.inFlight[task] {
		return
	}
	p.inFlight[task] = sent
	task.BytesSent = sent
	p.emitLocked()
}

func (p *progressTracker) finish(task *Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished[task] {
		return
	}
	p.finished[task] = true
	delete(p.inFlight, task)
	p.done += task.File.Size()
	if task.Status == StatusConfirmed {
		task.BytesSent = task.File.Size()
	}
	p.emitLocked()
}

// complete emits the final 100% if it has not been reported yet.
func (p *progressTracker) complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.emitted && p.last >= p.total {
		return
	}
	p.last = p.total
	p.emitted = true
	p.notifyLocked(p.total)
}

func (p *progressTracker) emitLocked() {
	current := p.done
	for _, sent := range p.inFlight {
		current += sent
	}
	if current > p.total {
		current = p.total
	}
	if p.emitted && current <= p.last {
		return
	}
	p.last = current
	p.emitted = true
	p.notifyLocked(current)
}

func (p *progressTracker) notifyLocked(done int64) {
	if p.onProgress == nil {
		return
	}
	percent := float64(100)
	if p.total > 0 {
		percent = float64(done) * 100 / float64(p.total)
	}
	p.onProgress(Progress{BytesDone: done, BytesTotal: p.total, Percent: percent})
}
