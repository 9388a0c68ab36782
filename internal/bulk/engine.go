// Package bulk runs move, copy and delete over many screenshots in
// fixed-size concurrent batches.
package bulk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adamskus05/screenie/internal/logging"
	"github.com/adamskus05/screenie/internal/metrics"
	"github.com/adamskus05/screenie/pkg/client"
	"github.com/adamskus05/screenie/pkg/models"
	"github.com/adamskus05/screenie/pkg/protocol"
)

// DefaultBatchSize bounds how many item operations are in flight at once.
const DefaultBatchSize = 5

// Mutator performs the per-item remote calls.
type Mutator interface {
	MoveScreenshot(ctx context.Context, req protocol.MoveRequest) error
	DeleteScreenshot(ctx context.Context, folder, filename string) error
}

// FolderSource provides the currently displayed folders, used to find the
// owning folder of items in jobs started from the aggregate view.
type FolderSource interface {
	Current() ([]models.Folder, bool)
}

// ProgressFunc is called after every settled item with the number of
// settled items and the job total. Calls are serialized.
type ProgressFunc func(done, total int)

// Job is one bulk operation. Items are screenshot names. An empty or "all"
// SourceFolder means each item's folder is looked up individually.
type Job struct {
	Operation    protocol.Operation
	Items        []string
	SourceFolder string
	TargetFolder string
}

// Validate checks the job before any item runs.
func (j Job) Validate() error {
	err := v.ValidateStruct(&j,
		v.Field(&j.Operation,
			v.Required,
			v.In(protocol.OpMove, protocol.OpCopy, protocol.OpDelete).Error("must be move, copy or delete"),
		),
		v.Field(&j.Items,
			v.Required.Error("no screenshots selected"),
			v.Each(v.Required.Error("screenshot name must not be empty")),
		),
		v.Field(&j.TargetFolder,
			v.When(j.Operation != protocol.OpDelete,
				v.Required.Error("no target folder selected"),
				v.NotIn(models.AllFolder).Error("cannot target the aggregate folder"),
			),
		),
	)
	if err != nil {
		return client.FromValidation("job", err)
	}
	if j.Operation == protocol.OpMove && j.SourceFolder != "" && j.SourceFolder == j.TargetFolder {
		return client.NewValidationError("target_folder", "target must differ from source")
	}
	return nil
}

func (j Job) explicitSource() bool {
	return j.SourceFolder != "" && j.SourceFolder != models.AllFolder
}

// ItemFailure records why one item failed.
type ItemFailure struct {
	Name   string
	Source string
	Err    error
}

// Result is the outcome of a job. Completed+Failed+Skipped equals Total.
// Skipped is non-zero only when the job was aborted.
type Result struct {
	JobID     string
	Operation protocol.Operation
	Total     int
	Completed int
	Failed    int
	Skipped   int
	Failures  []ItemFailure
}

// Summary returns the user-facing outcome message.
func (r Result) Summary() string {
	verb := r.Operation.Past()
	if r.Failed > 0 {
		return fmt.Sprintf("%s%s %d screenshots, %d failed", strings.ToUpper(verb[:1]), verb[1:], r.Completed, r.Failed)
	}
	return fmt.Sprintf("Successfully %s %d screenshots", verb, r.Completed)
}

// Engine runs bulk jobs.
type Engine struct {
	mutator   Mutator
	folders   FolderSource
	batchSize int
}

// New creates an engine. folders may be nil when every job names its source.
func New(mutator Mutator, folders FolderSource, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		mutator:   mutator,
		folders:   folders,
		batchSize: batchSize,
	}
}

// BatchSize returns the configured batch size.
func (e *Engine) BatchSize() int {
	return e.batchSize
}

// Run executes job in sequential batches; items within a batch run
// concurrently and the next batch starts only after every item of the
// previous one has settled. Item failures are counted, never returned.
// Run returns an error only for an invalid job, an authentication failure
// (after which no further batches start), or a cancelled ctx.
func (e *Engine) Run(ctx context.Context, job Job, progress ProgressFunc) (Result, error) {
	if err := job.Validate(); err != nil {
		return Result{}, err
	}

	res := Result{
		JobID:     uuid.NewString(),
		Operation: job.Operation,
		Total:     len(job.Items),
	}
	ctx = logging.WithJobID(ctx, res.JobID)
	log := logging.WithContext(ctx)
	start := time.Now()

	var folders []models.Folder
	if !job.explicitSource() && e.folders != nil {
		folders, _ = e.folders.Current()
	}

	log.Info("Bulk job started",
		zap.String("operation", string(job.Operation)),
		zap.Int("items", res.Total),
		zap.String("source", job.SourceFolder),
		zap.String("target", job.TargetFolder),
		zap.Int("batch_size", e.batchSize))

	var (
		mu      sync.Mutex
		authErr error
	)

	settle := func(name, source string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			res.Completed++
		} else {
			res.Failed++
			res.Failures = append(res.Failures, ItemFailure{Name: name, Source: source, Err: err})
			if client.IsAuth(err) && authErr == nil {
				authErr = err
			}
			log.Warn("Bulk item failed", zap.String("item", name), zap.String("source", source), zap.Error(err))
		}
		metrics.RecordBulkItem(string(job.Operation), err == nil)
		if progress != nil {
			progress(res.Completed+res.Failed, res.Total)
		}
	}

	var runErr error
	for offset := 0; offset < len(job.Items); offset += e.batchSize {
		if authErr != nil {
			runErr = authErr
			break
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		end := offset + e.batchSize
		if end > len(job.Items) {
			end = len(job.Items)
		}

		var g errgroup.Group
		for _, name := range job.Items[offset:end] {
			name := name
			g.Go(func() error {
				source, err := e.resolveSource(job, name, folders)
				if err == nil {
					err = e.apply(ctx, job, name, source)
				}
				settle(name, source, err)
				return nil
			})
		}
		g.Wait()
	}
	if runErr == nil && authErr != nil {
		runErr = authErr
	}
	res.Skipped = res.Total - res.Completed - res.Failed

	metrics.RecordBulkJob(string(job.Operation), time.Since(start))
	log.Info("Bulk job finished",
		zap.Int("completed", res.Completed),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Duration("took", time.Since(start)))

	return res, runErr
}

func (e *Engine) apply(ctx context.Context, job Job, name, source string) error {
	switch job.Operation {
	case protocol.OpDelete:
		return e.mutator.DeleteScreenshot(ctx, source, name)
	default:
		return e.mutator.MoveScreenshot(ctx, protocol.MoveRequest{
			SourceFolder: source,
			TargetFolder: job.TargetFolder,
			Filename:     name,
			Operation:    job.Operation,
		})
	}
}

// resolveSource returns the concrete folder item is taken from. The
// aggregate folder is never sent to the server: an item whose folder cannot
// be determined fails instead.
func (e *Engine) resolveSource(job Job, name string, folders []models.Folder) (string, error) {
	if job.explicitSource() {
		return job.SourceFolder, nil
	}

	owners := models.LocateScreenshot(folders, name)
	if len(owners) == 1 {
		return owners[0], nil
	}

	// Ambiguous or unknown: fall back to the folder segment of the locator
	// shown in the aggregate view.
	if all, ok := models.FindFolder(folders, models.AllFolder); ok {
		if s, ok := models.FindScreenshot(all, name); ok {
			if folder, ok := models.FolderFromLocator(s.Path); ok && (len(owners) == 0 || contains(owners, folder)) {
				return folder, nil
			}
		}
	}
	if len(owners) > 1 {
		return "", client.NewValidationError("source_folder",
			fmt.Sprintf("%s exists in %d folders", name, len(owners)))
	}
	return "", client.NewValidationError("source_folder",
		fmt.Sprintf("cannot determine the folder holding %s", name))
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
