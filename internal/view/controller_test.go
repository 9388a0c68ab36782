package view

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamskus05/screenie/internal/bulk"
	"github.com/adamskus05/screenie/internal/imageloader"
	"github.com/adamskus05/screenie/internal/resources"
	"github.com/adamskus05/screenie/internal/snapshot"
	"github.com/adamskus05/screenie/pkg/client"
	"github.com/adamskus05/screenie/pkg/models"
	"github.com/adamskus05/screenie/pkg/protocol"
)

const (
	testTimeout = time.Second
	testTick    = 5 * time.Millisecond
)

// fakeServer is an in-memory screenshot server. It implements every
// collaborator the controller is wired with.
type fakeServer struct {
	mu       sync.Mutex
	folders  map[string]*models.Folder
	starred  map[string]bool
	failMove map[string]bool
	authed   bool
	images   map[string][]byte

	// starGate, when set, blocks SetStarred until it is closed.
	starGate chan struct{}
	starErr  error
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		folders: map[string]*models.Folder{
			"user_1": {Name: "user_1", DisplayName: "Default", IsPermanent: true},
		},
		starred:  map[string]bool{},
		failMove: map[string]bool{},
		authed:   true,
		images:   map[string][]byte{},
	}
}

func (s *fakeServer) addShots(folder string, names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.folders[folder]
	for _, n := range names {
		f.Screenshots = append(f.Screenshots, models.Screenshot{
			Name: n,
			Path: fmt.Sprintf("/screenshots/user_1/%s/%s", folder, n),
			Size: 10,
		})
	}
}

func (s *fakeServer) FetchFolders(ctx context.Context) (*protocol.FoldersResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authed {
		return nil, &client.RemoteError{Status: http.StatusUnauthorized}
	}
	all := models.Folder{Name: "all", DisplayName: "All Screenshots", IsPermanent: true}
	var out []models.Folder
	names := make([]string, 0, len(s.folders))
	for n := range s.folders {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		f := s.folders[n].Clone()
		f.IsStarred = s.starred[n]
		all.Screenshots = append(all.Screenshots, f.Screenshots...)
		out = append(out, f)
	}
	return &protocol.FoldersResponse{Folders: append(out, all), DefaultFolder: "all"}, nil
}

func (s *fakeServer) CheckAuth(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed, nil
}

func (s *fakeServer) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authed = false
	return nil
}

func (s *fakeServer) CreateFolder(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[name]; ok {
		return &client.RemoteError{Status: http.StatusBadRequest, Message: "Folder already exists"}
	}
	s.folders[name] = &models.Folder{Name: name, DisplayName: name}
	return nil
}

func (s *fakeServer) DeleteFolder(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.folders, name)
	return nil
}

func (s *fakeServer) SetStarred(ctx context.Context, name string, starred bool) error {
	if s.starGate != nil {
		<-s.starGate
	}
	if s.starErr != nil {
		return s.starErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starred[name] = starred
	return nil
}

func (s *fakeServer) Upload(ctx context.Context, filename string, content io.Reader, folder string) (*protocol.UploadResponse, error) {
	if folder == "" {
		folder = "user_1"
	}
	io.Copy(io.Discard, content)
	s.addShots(folder, filename)
	return &protocol.UploadResponse{Success: true}, nil
}

func (s *fakeServer) take(folder, name string) (models.Screenshot, bool) {
	f, ok := s.folders[folder]
	if !ok {
		return models.Screenshot{}, false
	}
	for i, shot := range f.Screenshots {
		if shot.Name == name {
			f.Screenshots = append(f.Screenshots[:i], f.Screenshots[i+1:]...)
			return shot, true
		}
	}
	return models.Screenshot{}, false
}

func (s *fakeServer) MoveScreenshot(ctx context.Context, req protocol.MoveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMove[req.Filename] {
		return &client.RemoteError{Status: http.StatusInternalServerError, Message: "simulated"}
	}
	target, ok := s.folders[req.TargetFolder]
	if !ok {
		return &client.RemoteError{Status: http.StatusNotFound, Message: "Target folder not found"}
	}
	shot, ok := s.take(req.SourceFolder, req.Filename)
	if !ok {
		return &client.RemoteError{Status: http.StatusNotFound, Message: "File not found"}
	}
	if req.Operation == protocol.OpCopy {
		s.folders[req.SourceFolder].Screenshots = append(s.folders[req.SourceFolder].Screenshots, shot)
	}
	shot.Path = fmt.Sprintf("/screenshots/user_1/%s/%s", req.TargetFolder, req.Filename)
	target.Screenshots = append(target.Screenshots, shot)
	return nil
}

func (s *fakeServer) DeleteScreenshot(ctx context.Context, folder, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.take(folder, filename); !ok {
		return &client.RemoteError{Status: http.StatusNotFound, Message: "File not found"}
	}
	return nil
}

func (s *fakeServer) FetchImage(ctx context.Context, absURL string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.images[absURL]; ok {
		return d, nil
	}
	return nil, &client.RemoteError{Status: http.StatusNotFound}
}

// recorder is a Renderer that records what it was asked to draw.
type recorder struct {
	mu            sync.Mutex
	notifications []string
	kinds         []NotificationKind
	progress      []string
	grid          string
	folderGrid    int
	detail        string
	redirected    int
	selection     int
}

func (r *recorder) RenderFolderList(folders []models.Folder, current string) {}
func (r *recorder) RenderFolderGrid(folders []models.Folder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.folderGrid++
}
func (r *recorder) RenderScreenshotGrid(folder models.Folder, selected []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grid = folder.Name
}
func (r *recorder) RenderSelection(active bool, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selection = count
}
func (r *recorder) ShowProgress(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, message)
}
func (r *recorder) HideProgress() {}
func (r *recorder) ShowNotification(message string, kind NotificationKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, message)
	r.kinds = append(r.kinds, kind)
}
func (r *recorder) ShowDetail(shot models.Screenshot, img imageloader.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detail = shot.Name
}
func (r *recorder) CloseDetail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detail = ""
}
func (r *recorder) RedirectToLogin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirected++
}

func (r *recorder) last() (string, NotificationKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notifications) == 0 {
		return "", ""
	}
	return r.notifications[len(r.notifications)-1], r.kinds[len(r.kinds)-1]
}

type harness struct {
	srv   *fakeServer
	rec   *recorder
	store *snapshot.Store
	cache *resources.Cache
	ctl   *Controller
}

func newHarness(t *testing.T, confirm bool) *harness {
	t.Helper()
	srv := newFakeServer()
	rec := &recorder{}
	store := snapshot.New(srv, snapshot.DefaultTTL)
	cache, err := resources.New(t.TempDir())
	require.NoError(t, err)
	loader := imageloader.New("http://srv", srv, cache, 64)
	ctl := New(Deps{
		API:       srv,
		Store:     store,
		Engine:    bulk.New(srv, store, bulk.DefaultBatchSize),
		Loader:    loader,
		Renderer:  rec,
		Confirmer: ConfirmFunc(func(string) bool { return confirm }),
	})
	return &harness{srv: srv, rec: rec, store: store, cache: cache, ctl: ctl}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestScenarioVacationFolder(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	shots := make([]string, 7)
	for i := range shots {
		shots[i] = fmt.Sprintf("shot_%d.png", i)
	}
	h.srv.addShots("user_1", shots...)
	h.srv.failMove["shot_4.png"] = true

	require.NoError(t, h.ctl.Init(ctx))

	// Create folder.
	require.NoError(t, h.ctl.CreateFolder(ctx, "vacation"))
	folders, err := h.ctl.LoadFolders(ctx, true)
	require.NoError(t, err)
	vacation, ok := models.FindFolder(folders, "vacation")
	require.True(t, ok)
	assert.False(t, vacation.IsStarred)
	assert.False(t, vacation.IsPermanent)

	// Star it; the local snapshot reflects it before the server answers.
	h.srv.starGate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- h.ctl.ToggleStar(ctx, "vacation") }()

	require.Eventually(t, func() bool {
		cur, _ := h.store.Current()
		f, _ := models.FindFolder(cur, "vacation")
		return f.IsStarred
	}, testTimeout, testTick)
	close(h.srv.starGate)
	require.NoError(t, <-done)

	// Bulk move 7 screenshots from the aggregate view.
	require.NoError(t, h.ctl.SelectFolder(ctx, models.AllFolder))
	h.ctl.EnterMultiSelect()
	for _, s := range shots {
		h.ctl.ToggleSelection(s)
	}
	assert.Equal(t, 7, h.rec.selection)

	res, err := h.ctl.BulkMove(ctx, "vacation")
	require.NoError(t, err)
	assert.Equal(t, 6, res.Completed)
	assert.Equal(t, 1, res.Failed)

	msg, kind := h.rec.last()
	assert.Equal(t, "Moved 6 screenshots, 1 failed", msg)
	assert.Equal(t, Failure, kind)
	assert.False(t, h.ctl.Selection().Active(), "bulk completion leaves multi-select")

	folders, err = h.store.Get(ctx, true)
	require.NoError(t, err)
	vacation, _ = models.FindFolder(folders, "vacation")
	assert.Len(t, vacation.Screenshots, 6)
	assert.True(t, vacation.IsStarred)
}

func TestToggleStarRevertsOnFailure(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.srv.CreateFolder(ctx, "work"))
	_, err := h.ctl.LoadFolders(ctx, false)
	require.NoError(t, err)

	h.srv.starErr = &client.RemoteError{Status: http.StatusInternalServerError, Message: "db down"}
	err = h.ctl.ToggleStar(ctx, "work")
	require.Error(t, err)

	cur, _ := h.store.Current()
	work, _ := models.FindFolder(cur, "work")
	assert.False(t, work.IsStarred, "optimistic star must be rolled back")
	msg, kind := h.rec.last()
	assert.Equal(t, "Failed to update star status: db down", msg)
	assert.Equal(t, Failure, kind)
}

func TestToggleStarFailureKeepsNewerRefresh(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.srv.CreateFolder(ctx, "work"))
	_, err := h.ctl.LoadFolders(ctx, false)
	require.NoError(t, err)

	h.srv.starErr = &client.RemoteError{Status: http.StatusInternalServerError, Message: "db down"}
	h.srv.starGate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- h.ctl.ToggleStar(ctx, "work") }()

	require.Eventually(t, func() bool {
		cur, _ := h.store.Current()
		f, _ := models.FindFolder(cur, "work")
		return f.IsStarred
	}, testTimeout, testTick)

	// Another client stars the folder and a refresh lands before the
	// failed call returns.
	h.srv.mu.Lock()
	h.srv.starred["work"] = true
	h.srv.mu.Unlock()
	_, err = h.store.Get(ctx, true)
	require.NoError(t, err)

	close(h.srv.starGate)
	require.Error(t, <-done)

	cur, _ := h.store.Current()
	work, _ := models.FindFolder(cur, "work")
	assert.True(t, work.IsStarred, "rollback must not overwrite the refreshed state")
}

func TestToggleStarRejectsPermanent(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.ctl.LoadFolders(ctx, false)
	require.NoError(t, err)

	_, ok := client.AsValidation(h.ctl.ToggleStar(ctx, "user_1"))
	assert.True(t, ok)
	_, ok = client.AsValidation(h.ctl.ToggleStar(ctx, models.AllFolder))
	assert.True(t, ok)
}

func TestCreateFolderValidation(t *testing.T) {
	h := newHarness(t, true)
	err := h.ctl.CreateFolder(context.Background(), "  ")
	_, ok := client.AsValidation(err)
	assert.True(t, ok)
	msg, _ := h.rec.last()
	assert.Equal(t, "folder name is required", msg)
}

func TestDeleteFolderNeedsConfirmation(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.srv.CreateFolder(ctx, "work"))
	_, err := h.ctl.LoadFolders(ctx, false)
	require.NoError(t, err)

	assert.ErrorIs(t, h.ctl.DeleteFolder(ctx, "work"), ErrCancelled)
	folders, _ := h.store.Get(ctx, true)
	_, ok := models.FindFolder(folders, "work")
	assert.True(t, ok, "declined delete must not remove the folder")
}

func TestDeleteCurrentFolderReturnsHome(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.srv.CreateFolder(ctx, "work"))
	require.NoError(t, h.ctl.SelectFolder(ctx, "work"))

	require.NoError(t, h.ctl.DeleteFolder(ctx, "work"))
	assert.Equal(t, "", h.ctl.State().CurrentFolder)
}

func TestSelectFolderClearsSelection(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.srv.addShots("user_1", "a.png")
	require.NoError(t, h.srv.CreateFolder(ctx, "work"))
	require.NoError(t, h.ctl.SelectFolder(ctx, "user_1"))

	h.ctl.EnterMultiSelect()
	h.ctl.ToggleSelection("a.png")
	require.NoError(t, h.ctl.SelectFolder(ctx, "work"))
	assert.Zero(t, h.ctl.Selection().Count())
	assert.Equal(t, "work", h.rec.grid)
}

func TestMoveTargets(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.srv.CreateFolder(ctx, "work"))
	require.NoError(t, h.ctl.SelectFolder(ctx, "work"))

	names := func(fs []models.Folder) []string {
		var out []string
		for _, f := range fs {
			out = append(out, f.Name)
		}
		return out
	}
	assert.Equal(t, []string{"user_1"}, names(h.ctl.MoveTargets(protocol.OpMove)))
	assert.ElementsMatch(t, []string{"user_1", "work"}, names(h.ctl.MoveTargets(protocol.OpCopy)))
}

func TestBulkDelete(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.srv.addShots("user_1", "a.png", "b.png", "c.png")
	require.NoError(t, h.ctl.SelectFolder(ctx, "user_1"))

	h.ctl.EnterMultiSelect()
	h.ctl.ToggleSelection("a.png")
	h.ctl.ToggleSelection("c.png")

	res, err := h.ctl.BulkDelete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)
	msg, kind := h.rec.last()
	assert.Equal(t, "Successfully deleted 2 screenshots", msg)
	assert.Equal(t, Success, kind)

	folders, _ := h.store.Get(ctx, false)
	f, _ := models.FindFolder(folders, "user_1")
	assert.Len(t, f.Screenshots, 1)

	h.rec.mu.Lock()
	progress := strings.Join(h.rec.progress, "|")
	h.rec.mu.Unlock()
	assert.Contains(t, progress, "Deleting screenshots... 2/2")
}

func TestBulkRequiresSelectionAndTarget(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.ctl.BulkDelete(ctx)
	_, ok := client.AsValidation(err)
	assert.True(t, ok)

	_, err = h.ctl.MoveOrCopy(ctx, protocol.OpMove, []string{"a.png"}, "")
	_, ok = client.AsValidation(err)
	assert.True(t, ok)
	msg, _ := h.rec.last()
	assert.Equal(t, "Please select a target folder", msg)
}

func TestViewAndDeleteScreenshot(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.srv.addShots("user_1", "a.png")
	h.srv.images["http://srv/screenshots/user_1/user_1/a.png"] = pngBytes(t)
	require.NoError(t, h.ctl.SelectFolder(ctx, "user_1"))

	img, err := h.ctl.ViewScreenshot(ctx, "a.png")
	require.NoError(t, err)
	require.False(t, img.Placeholder)
	assert.True(t, h.cache.Valid(img.Handle))
	assert.Equal(t, "a.png", h.rec.detail)

	_, err = h.ctl.DeleteScreenshot(ctx, "a.png")
	require.NoError(t, err)
	assert.False(t, h.cache.Valid(img.Handle), "closing the detail view releases its handle")
	assert.Equal(t, "", h.rec.detail)
	msg, _ := h.rec.last()
	assert.Equal(t, "Screenshot deleted successfully", msg)
}

func TestViewScreenshotPlaceholder(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.srv.addShots("user_1", "missing.png")
	require.NoError(t, h.ctl.SelectFolder(ctx, "user_1"))

	img, err := h.ctl.ViewScreenshot(ctx, "missing.png")
	require.NoError(t, err)
	assert.True(t, img.Placeholder)
	assert.Zero(t, h.cache.Stats().Live)
}

func TestSaveScreenshot(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	data := pngBytes(t)
	h.srv.addShots("user_1", "a.png")
	h.srv.images["http://srv/screenshots/user_1/user_1/a.png"] = data
	require.NoError(t, h.ctl.SelectFolder(ctx, "user_1"))

	var out bytes.Buffer
	require.NoError(t, h.ctl.SaveScreenshot(ctx, "a.png", &out))
	assert.Equal(t, data, out.Bytes())
	assert.Zero(t, h.cache.Stats().Live, "temporary handle is released")
}

func TestUploadRefreshes(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.srv.CreateFolder(ctx, "work"))
	require.NoError(t, h.ctl.SelectFolder(ctx, "work"))

	require.NoError(t, h.ctl.Upload(ctx, "new.png", strings.NewReader("x")))
	folders, _ := h.store.Current()
	f, _ := models.FindFolder(folders, "work")
	assert.Len(t, f.Screenshots, 1)
	msg, _ := h.rec.last()
	assert.Equal(t, "new.png uploaded successfully", msg)
}

func TestLogoutReleasesEverything(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.srv.addShots("user_1", "a.png")
	h.srv.images["http://srv/screenshots/user_1/user_1/a.png"] = pngBytes(t)
	require.NoError(t, h.ctl.SelectFolder(ctx, "user_1"))
	h.ctl.Thumbnail(ctx, models.Screenshot{Path: "/screenshots/user_1/user_1/a.png"})
	_, err := h.ctl.ViewScreenshot(ctx, "a.png")
	require.NoError(t, err)
	require.Equal(t, 2, h.cache.Stats().Live)

	require.NoError(t, h.ctl.Logout(ctx))
	assert.Zero(t, h.cache.Stats().Live)
	assert.Equal(t, AppState{}, h.ctl.State())
	assert.Equal(t, 1, h.rec.redirected)
	_, ok := h.store.Current()
	assert.False(t, ok)
}

func TestAuthFailureRedirects(t *testing.T) {
	h := newHarness(t, true)
	h.srv.authed = false

	err := h.ctl.Init(context.Background())
	assert.True(t, client.IsAuth(err))
	assert.Equal(t, 1, h.rec.redirected)
}
