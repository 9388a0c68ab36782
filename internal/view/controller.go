// Package view holds the application state and the command handlers the
// presentation layer calls in response to user actions.
package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/adamskus05/screenie/internal/bulk"
	"github.com/adamskus05/screenie/internal/imageloader"
	"github.com/adamskus05/screenie/internal/logging"
	"github.com/adamskus05/screenie/internal/selection"
	"github.com/adamskus05/screenie/internal/snapshot"
	"github.com/adamskus05/screenie/pkg/client"
	"github.com/adamskus05/screenie/pkg/models"
	"github.com/adamskus05/screenie/pkg/protocol"
)

// ErrCancelled is returned when the user declines a confirmation.
var ErrCancelled = errors.New("cancelled by user")

// API is the subset of the server client the controller calls directly.
// Per-item moves and deletes go through the bulk engine.
type API interface {
	CheckAuth(ctx context.Context) (bool, error)
	Logout(ctx context.Context) error
	CreateFolder(ctx context.Context, name string) error
	DeleteFolder(ctx context.Context, name string) error
	SetStarred(ctx context.Context, name string, starred bool) error
	Upload(ctx context.Context, filename string, content io.Reader, folder string) (*protocol.UploadResponse, error)
}

// AppState is the navigation state. It is created at startup and reset on
// logout.
type AppState struct {
	// CurrentFolder is empty on the home view.
	CurrentFolder string
	// CurrentScreenshot is the screenshot open in the detail view.
	CurrentScreenshot string
	// DetailLocator is the absolute locator of the detail image handle.
	DetailLocator string
}

// Deps wires a Controller.
type Deps struct {
	API       API
	Store     *snapshot.Store
	Engine    *bulk.Engine
	Loader    *imageloader.Loader
	Selection *selection.State
	Renderer  Renderer
	Confirmer Confirmer
}

// Controller reacts to user commands.
type Controller struct {
	api       API
	store     *snapshot.Store
	engine    *bulk.Engine
	loader    *imageloader.Loader
	selection *selection.State
	renderer  Renderer
	confirmer Confirmer

	mu    sync.Mutex
	state AppState
}

// New creates a controller.
func New(d Deps) *Controller {
	if d.Selection == nil {
		d.Selection = selection.New()
	}
	if d.Confirmer == nil {
		d.Confirmer = AlwaysConfirm
	}
	return &Controller{
		api:       d.API,
		store:     d.Store,
		engine:    d.Engine,
		loader:    d.Loader,
		selection: d.Selection,
		renderer:  d.Renderer,
		confirmer: d.Confirmer,
	}
}

// State returns a copy of the navigation state.
func (c *Controller) State() AppState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) currentFolder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CurrentFolder
}

// Selection returns the multi-select state.
func (c *Controller) Selection() *selection.State {
	return c.selection
}

// fail reports err to the user. Authentication failures redirect to login
// instead of showing a notification.
func (c *Controller) fail(err error, message string) error {
	if client.IsAuth(err) {
		logging.Warn("Session expired, redirecting to login")
		c.renderer.RedirectToLogin()
		return err
	}
	if errors.Is(err, ErrCancelled) {
		return err
	}
	if ve, ok := client.AsValidation(err); ok {
		c.renderer.ShowNotification(ve.Reason, Failure)
		return err
	}
	if message == "" {
		message = err.Error()
	} else if re, ok := client.AsRemote(err); ok && re.Message != "" {
		message = fmt.Sprintf("%s: %s", message, re.Message)
	}
	c.renderer.ShowNotification(message, Failure)
	return err
}

// Init checks the session and shows the home view.
func (c *Controller) Init(ctx context.Context) error {
	ok, err := c.api.CheckAuth(ctx)
	if err != nil {
		return c.fail(err, "Failed to initialize application")
	}
	if !ok {
		c.renderer.RedirectToLogin()
		return client.ErrUnauthorized
	}
	return c.Home(ctx)
}

// LoadFolders returns the ordered folder list and redraws the sidebar.
func (c *Controller) LoadFolders(ctx context.Context, force bool) ([]models.Folder, error) {
	folders, err := c.store.Get(ctx, force)
	if err != nil {
		return nil, c.fail(err, "Failed to load folders")
	}
	c.renderer.RenderFolderList(folders, c.currentFolder())
	return folders, nil
}

// Home shows the grid of folders.
func (c *Controller) Home(ctx context.Context) error {
	c.selection.Exit()
	c.mu.Lock()
	c.state.CurrentFolder = ""
	c.mu.Unlock()

	folders, err := c.LoadFolders(ctx, false)
	if err != nil {
		return err
	}
	c.renderer.RenderFolderGrid(folders)
	c.renderSelection()
	return nil
}

// SelectFolder shows the screenshots of name. The selection is cleared on
// every folder change.
func (c *Controller) SelectFolder(ctx context.Context, name string) error {
	c.selection.Clear()

	folders, err := c.store.Get(ctx, false)
	if err != nil {
		return c.fail(err, "Failed to load folders")
	}
	folder, ok := models.FindFolder(folders, name)
	if !ok {
		return c.fail(client.NewValidationError("folder", fmt.Sprintf("folder %q not found", name)), "")
	}

	c.mu.Lock()
	c.state.CurrentFolder = name
	c.mu.Unlock()

	c.renderer.RenderFolderList(folders, name)
	c.renderer.RenderScreenshotGrid(folder, nil)
	c.renderSelection()
	return nil
}

// RefreshCurrentView force-refreshes the snapshot and redraws whatever is
// shown. Selected names that no longer exist are dropped.
func (c *Controller) RefreshCurrentView(ctx context.Context) error {
	folders, err := c.store.Get(ctx, true)
	if err != nil {
		return c.fail(err, "Failed to refresh view")
	}
	current := c.currentFolder()
	c.renderer.RenderFolderList(folders, current)

	if current == "" {
		c.renderer.RenderFolderGrid(folders)
		return nil
	}
	folder, ok := models.FindFolder(folders, current)
	if !ok {
		// The folder is gone, e.g. deleted elsewhere.
		c.mu.Lock()
		c.state.CurrentFolder = ""
		c.mu.Unlock()
		c.selection.Exit()
		c.renderer.RenderFolderGrid(folders)
		c.renderSelection()
		return nil
	}
	c.selection.Retain(func(n string) bool {
		_, ok := models.FindScreenshot(folder, n)
		return ok
	})
	c.renderer.RenderScreenshotGrid(folder, c.selection.Selected())
	c.renderSelection()
	return nil
}

// CreateFolder creates a folder and refreshes the folder list.
func (c *Controller) CreateFolder(ctx context.Context, name string) error {
	if err := client.ValidateFolderName(name); err != nil {
		return c.fail(err, "")
	}
	if err := c.api.CreateFolder(ctx, name); err != nil {
		return c.fail(err, "Failed to create folder")
	}
	c.renderer.ShowNotification("Folder created successfully", Success)
	return c.RefreshCurrentView(ctx)
}

// DeleteFolder deletes a folder and everything in it after confirmation.
func (c *Controller) DeleteFolder(ctx context.Context, name string) error {
	folders, _ := c.store.Current()
	if f, ok := models.FindFolder(folders, name); ok && (f.IsPermanent || f.IsAll()) {
		return c.fail(client.NewValidationError("folder", "permanent folders cannot be deleted"), "")
	}
	if !c.confirmer.Confirm("Are you sure you want to delete this folder and all its contents?") {
		return ErrCancelled
	}
	if err := c.api.DeleteFolder(ctx, name); err != nil {
		return c.fail(err, "Failed to delete folder")
	}
	c.renderer.ShowNotification("Folder deleted successfully", Success)
	return c.RefreshCurrentView(ctx)
}

// ToggleStar flips a folder's star. The cached snapshot is updated first
// so the UI responds immediately, then reconciled with the server; a
// failed server call restores the previous value.
func (c *Controller) ToggleStar(ctx context.Context, name string) error {
	folders, ok := c.store.Current()
	if !ok {
		var err error
		if folders, err = c.store.Get(ctx, false); err != nil {
			return c.fail(err, "Failed to load folders")
		}
	}
	folder, found := models.FindFolder(folders, name)
	if !found {
		return c.fail(client.NewValidationError("folder", fmt.Sprintf("folder %q not found", name)), "")
	}
	if folder.IsPermanent || folder.IsAll() {
		return c.fail(client.NewValidationError("folder", "permanent folders cannot be starred"), "")
	}

	want := !folder.IsStarred
	edit, applied := c.store.StarLocally(name, want)
	if applied {
		c.renderCachedFolders()
	}

	if err := c.api.SetStarred(ctx, name, want); err != nil {
		if applied && c.store.RevertStar(edit) {
			c.renderCachedFolders()
		}
		return c.fail(err, "Failed to update star status")
	}

	if _, err := c.LoadFolders(ctx, true); err != nil {
		return err
	}
	return nil
}

func (c *Controller) renderCachedFolders() {
	if folders, ok := c.store.Current(); ok {
		c.renderer.RenderFolderList(folders, c.currentFolder())
	}
}

// MoveTargets lists folders a selection can be moved or copied into: never
// the aggregate folder, and for a move never the current folder.
func (c *Controller) MoveTargets(op protocol.Operation) []models.Folder {
	folders, _ := c.store.Current()
	current := c.currentFolder()
	var out []models.Folder
	for _, f := range folders {
		if f.IsAll() {
			continue
		}
		if op == protocol.OpMove && f.Name == current {
			continue
		}
		out = append(out, f)
	}
	return out
}

// EnterMultiSelect turns on multi-select mode.
func (c *Controller) EnterMultiSelect() {
	c.selection.Enter()
	c.renderSelection()
}

// ExitMultiSelect turns off multi-select mode and clears the selection.
func (c *Controller) ExitMultiSelect() {
	c.selection.Exit()
	c.renderSelection()
}

// ToggleSelection selects or deselects a screenshot and returns the new
// selection count.
func (c *Controller) ToggleSelection(name string) int {
	_, count := c.selection.Toggle(name)
	c.renderSelection()
	return count
}

func (c *Controller) renderSelection() {
	c.renderer.RenderSelection(c.selection.Active(), c.selection.Count())
}

// Logout ends the session and tears down all local state.
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.api.Logout(ctx); err != nil {
		c.renderer.ShowNotification("Logout failed", Failure)
		return err
	}
	c.Reset()
	c.renderer.RedirectToLogin()
	return nil
}

// Reset drops navigation state, the selection, the cached snapshot and
// every live image handle.
func (c *Controller) Reset() {
	c.selection.Exit()
	released := 0
	if c.loader != nil {
		released = c.loader.Cache().ReleaseAll()
	}
	c.store.Invalidate()

	c.mu.Lock()
	c.state = AppState{}
	c.mu.Unlock()

	logging.Debug("Application state reset", logging.Int("released_handles", released))
}
