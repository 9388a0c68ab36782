package bulk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/adamskus05/screenie/pkg/client"
	"github.com/adamskus05/screenie/pkg/models"
	"github.com/adamskus05/screenie/pkg/protocol"
)

// recordingMutator records calls and concurrent depth. Items named in fail
// return the mapped error.
type recordingMutator struct {
	delay time.Duration
	fail  map[string]error

	inflight int32
	maxDepth int32
	started  int32
	settled  int32

	mu       sync.Mutex
	calls    []protocol.MoveRequest
	deletes  []string
	startLog map[string]int32 // settled count observed when each call started
}

func (m *recordingMutator) enter(name string) {
	depth := atomic.AddInt32(&m.inflight, 1)
	for {
		cur := atomic.LoadInt32(&m.maxDepth)
		if depth <= cur || atomic.CompareAndSwapInt32(&m.maxDepth, cur, depth) {
			break
		}
	}
	atomic.AddInt32(&m.started, 1)
	m.mu.Lock()
	if m.startLog == nil {
		m.startLog = map[string]int32{}
	}
	m.startLog[name] = atomic.LoadInt32(&m.settled)
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
}

func (m *recordingMutator) leave() {
	atomic.AddInt32(&m.inflight, -1)
	atomic.AddInt32(&m.settled, 1)
}

func (m *recordingMutator) MoveScreenshot(ctx context.Context, req protocol.MoveRequest) error {
	m.enter(req.Filename)
	defer m.leave()
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	return m.fail[req.Filename]
}

func (m *recordingMutator) DeleteScreenshot(ctx context.Context, folder, filename string) error {
	m.enter(filename)
	defer m.leave()
	m.mu.Lock()
	m.deletes = append(m.deletes, folder+"/"+filename)
	m.mu.Unlock()
	return m.fail[filename]
}

type staticFolders []models.Folder

func (s staticFolders) Current() ([]models.Folder, bool) {
	return []models.Folder(s), len(s) > 0
}

func itemNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("shot_%02d.png", i)
	}
	return out
}

func TestRunBoundsConcurrency(t *testing.T) {
	m := &recordingMutator{delay: 10 * time.Millisecond}
	e := New(m, nil, 5)

	res, err := e.Run(context.Background(), Job{
		Operation:    protocol.OpMove,
		Items:        itemNames(12),
		SourceFolder: "user_1",
		TargetFolder: "vacation",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Completed != 12 || res.Failed != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := atomic.LoadInt32(&m.maxDepth); got > 5 {
		t.Errorf("max in-flight = %d, want <= 5", got)
	}

	// Every call in batch b must start after all earlier batches settled.
	for i, name := range itemNames(12) {
		batch := int32(i / 5)
		if got := m.startLog[name]; got < batch*5 {
			t.Errorf("%s started with %d settled, want >= %d", name, got, batch*5)
		}
	}
}

func TestRunCountsFailuresWithoutError(t *testing.T) {
	items := itemNames(7)
	m := &recordingMutator{fail: map[string]error{
		items[3]: &client.RemoteError{Status: http.StatusInternalServerError, Message: "disk full"},
	}}
	e := New(m, nil, 0)

	var progress []int
	res, err := e.Run(context.Background(), Job{
		Operation:    protocol.OpMove,
		Items:        items,
		SourceFolder: "user_1",
		TargetFolder: "vacation",
	}, func(done, total int) {
		if total != 7 {
			t.Errorf("total = %d", total)
		}
		progress = append(progress, done)
	})
	if err != nil {
		t.Fatalf("item failures must not fail the job: %v", err)
	}
	if res.Completed != 6 || res.Failed != 1 || res.Skipped != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.Failures) != 1 || res.Failures[0].Name != items[3] {
		t.Errorf("unexpected failures %+v", res.Failures)
	}
	if len(progress) != 7 || progress[6] != 7 {
		t.Errorf("unexpected progress %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] != progress[i-1]+1 {
			t.Errorf("progress not monotonic: %v", progress)
			break
		}
	}
	if got := res.Summary(); got != "Moved 6 screenshots, 1 failed" {
		t.Errorf("summary = %q", got)
	}
}

func TestRunDeleteUsesExplicitSource(t *testing.T) {
	m := &recordingMutator{}
	e := New(m, nil, 5)

	res, err := e.Run(context.Background(), Job{
		Operation:    protocol.OpDelete,
		Items:        []string{"a.png"},
		SourceFolder: "vacation",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.deletes) != 1 || m.deletes[0] != "vacation/a.png" {
		t.Errorf("deletes = %v", m.deletes)
	}
	if got := res.Summary(); got != "Successfully deleted 1 screenshots" {
		t.Errorf("summary = %q", got)
	}
}

func TestRunResolvesSourceFromAggregateView(t *testing.T) {
	folders := staticFolders{
		{Name: "all", IsPermanent: true, Screenshots: []models.Screenshot{
			{Name: "a.png", Path: "/screenshots/user_1/work/a.png"},
			{Name: "b.png", Path: "/screenshots/user_1/games/b.png"},
			{Name: "c.png", Path: "/screenshots/c.png"},
			{Name: "d.png", Path: "/screenshots/user_1/games/d.png"},
		}},
		{Name: "work", Screenshots: []models.Screenshot{{Name: "a.png"}}},
		{Name: "games", Screenshots: []models.Screenshot{{Name: "b.png"}, {Name: "d.png"}}},
		{Name: "misc", Screenshots: []models.Screenshot{{Name: "d.png"}}},
	}
	m := &recordingMutator{}
	e := New(m, folders, 5)

	res, err := e.Run(context.Background(), Job{
		Operation:    protocol.OpCopy,
		Items:        []string{"a.png", "b.png", "c.png", "d.png", "zzz.png"},
		SourceFolder: models.AllFolder,
		TargetFolder: "vacation",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	sources := map[string]string{}
	for _, c := range m.calls {
		if c.SourceFolder == models.AllFolder {
			t.Errorf("aggregate folder sent as source for %s", c.Filename)
		}
		sources[c.Filename] = c.SourceFolder
	}
	if sources["a.png"] != "work" || sources["b.png"] != "games" || sources["d.png"] != "games" {
		t.Errorf("unexpected sources %v", sources)
	}
	if res.Completed != 3 || res.Failed != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	for _, f := range res.Failures {
		if _, ok := client.AsValidation(f.Err); !ok {
			t.Errorf("%s: expected validation error, got %v", f.Name, f.Err)
		}
	}
}

func TestRunStopsAfterAuthFailure(t *testing.T) {
	items := itemNames(5)
	m := &recordingMutator{fail: map[string]error{
		items[0]: &client.RemoteError{Status: http.StatusUnauthorized},
	}}
	e := New(m, nil, 2)

	res, err := e.Run(context.Background(), Job{
		Operation:    protocol.OpMove,
		Items:        items,
		SourceFolder: "user_1",
		TargetFolder: "vacation",
	}, nil)
	if !client.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if atomic.LoadInt32(&m.started) != 2 {
		t.Errorf("expected only the first batch to run, got %d calls", m.started)
	}
	if res.Completed != 1 || res.Failed != 1 || res.Skipped != 3 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunRejectsInvalidJob(t *testing.T) {
	m := &recordingMutator{}
	e := New(m, nil, 5)

	jobs := []Job{
		{Operation: protocol.OpMove, TargetFolder: "x"},
		{Operation: protocol.OpMove, Items: []string{"a.png"}},
		{Operation: protocol.OpMove, Items: []string{"a.png"}, TargetFolder: models.AllFolder},
		{Operation: protocol.OpMove, Items: []string{"a.png"}, SourceFolder: "x", TargetFolder: "x"},
		{Operation: "rename", Items: []string{"a.png"}, TargetFolder: "x"},
		{Operation: protocol.OpDelete, Items: []string{""}},
	}
	for _, job := range jobs {
		_, err := e.Run(context.Background(), job, nil)
		if _, ok := client.AsValidation(err); !ok {
			t.Errorf("expected validation error for %+v, got %v", job, err)
		}
	}
	if atomic.LoadInt32(&m.started) != 0 {
		t.Error("invalid jobs must not issue calls")
	}
}

func TestRunHonorsCancelledContext(t *testing.T) {
	m := &recordingMutator{}
	e := New(m, nil, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx, Job{Operation: protocol.OpDelete, Items: itemNames(3), SourceFolder: "x"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Skipped != 3 {
		t.Errorf("expected all items skipped, got %+v", res)
	}
}

func TestPropertyAccounting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("completed+failed == N and failed == K", prop.ForAll(
		func(n int, failMask uint32, batch int) bool {
			items := itemNames(n)
			fail := map[string]error{}
			for i, name := range items {
				if failMask&(1<<uint(i%32)) != 0 {
					fail[name] = errors.New("simulated")
				}
			}
			m := &recordingMutator{fail: fail}
			e := New(m, nil, batch)

			var calls int32
			res, err := e.Run(context.Background(), Job{
				Operation:    protocol.OpCopy,
				Items:        items,
				SourceFolder: "user_1",
				TargetFolder: "t",
			}, func(done, total int) { atomic.AddInt32(&calls, 1) })
			if err != nil {
				return false
			}
			return res.Completed+res.Failed == n &&
				res.Failed == len(fail) &&
				int(atomic.LoadInt32(&calls)) == n &&
				int(atomic.LoadInt32(&m.maxDepth)) <= e.BatchSize()
		},
		gen.IntRange(1, 40),
		gen.UInt32(),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
