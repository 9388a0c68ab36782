package view

import (
	"context"
	"fmt"
	"io"

	"github.com/adamskus05/screenie/internal/bulk"
	"github.com/adamskus05/screenie/internal/imageloader"
	"github.com/adamskus05/screenie/pkg/client"
	"github.com/adamskus05/screenie/pkg/models"
	"github.com/adamskus05/screenie/pkg/protocol"
)

func progressVerb(op protocol.Operation) string {
	switch op {
	case protocol.OpMove:
		return "Moving"
	case protocol.OpCopy:
		return "Copying"
	default:
		return "Deleting"
	}
}

// runBulk runs job with live progress, reports the outcome and refreshes
// the view.
func (c *Controller) runBulk(ctx context.Context, job bulk.Job) (bulk.Result, error) {
	verb := progressVerb(job.Operation)
	c.renderer.ShowProgress(fmt.Sprintf("%s %d screenshots...", verb, len(job.Items)))

	res, err := c.engine.Run(ctx, job, func(done, total int) {
		c.renderer.ShowProgress(fmt.Sprintf("%s screenshots... %d/%d", verb, done, total))
	})
	c.renderer.HideProgress()

	if err != nil {
		if _, ok := client.AsValidation(err); ok {
			return res, c.fail(err, "")
		}
		c.fail(err, fmt.Sprintf("Failed to %s screenshots", job.Operation))
		if client.IsAuth(err) {
			return res, err
		}
	} else if res.Failed > 0 {
		c.renderer.ShowNotification(res.Summary(), Failure)
	} else {
		c.renderer.ShowNotification(res.Summary(), Success)
	}

	c.selection.Exit()
	if refreshErr := c.RefreshCurrentView(ctx); refreshErr != nil && err == nil {
		err = refreshErr
	}
	return res, err
}

// DeleteScreenshot deletes one screenshot from the current folder after
// confirmation, closing the detail view first.
func (c *Controller) DeleteScreenshot(ctx context.Context, name string) (bulk.Result, error) {
	if name == "" {
		return bulk.Result{}, c.fail(client.NewValidationError("name", "No screenshot selected"), "")
	}
	if !c.confirmer.Confirm("Are you sure you want to delete this screenshot?") {
		return bulk.Result{}, ErrCancelled
	}
	c.CloseDetail()

	res, err := c.engine.Run(ctx, bulk.Job{
		Operation:    protocol.OpDelete,
		Items:        []string{name},
		SourceFolder: c.currentFolder(),
	}, nil)
	if err == nil && res.Failed > 0 {
		err = res.Failures[0].Err
	}
	if err != nil {
		c.fail(err, "Failed to delete screenshot")
		if client.IsAuth(err) {
			return res, err
		}
	} else {
		c.renderer.ShowNotification("Screenshot deleted successfully", Success)
	}

	if refreshErr := c.RefreshCurrentView(ctx); refreshErr != nil && err == nil {
		err = refreshErr
	}
	return res, err
}

// BulkDelete deletes every selected screenshot after one confirmation.
func (c *Controller) BulkDelete(ctx context.Context) (bulk.Result, error) {
	names := c.selection.Selected()
	if len(names) == 0 {
		return bulk.Result{}, c.fail(client.NewValidationError("selection", "No screenshots selected"), "")
	}
	if !c.confirmer.Confirm(fmt.Sprintf("Are you sure you want to delete %d screenshots?", len(names))) {
		return bulk.Result{}, ErrCancelled
	}
	return c.runBulk(ctx, bulk.Job{
		Operation:    protocol.OpDelete,
		Items:        names,
		SourceFolder: c.currentFolder(),
	})
}

// BulkMove moves every selected screenshot into target.
func (c *Controller) BulkMove(ctx context.Context, target string) (bulk.Result, error) {
	return c.MoveOrCopy(ctx, protocol.OpMove, c.selection.Selected(), target)
}

// BulkCopy copies every selected screenshot into target.
func (c *Controller) BulkCopy(ctx context.Context, target string) (bulk.Result, error) {
	return c.MoveOrCopy(ctx, protocol.OpCopy, c.selection.Selected(), target)
}

// MoveOrCopy moves or copies names from the current folder into target.
func (c *Controller) MoveOrCopy(ctx context.Context, op protocol.Operation, names []string, target string) (bulk.Result, error) {
	if len(names) == 0 {
		return bulk.Result{}, c.fail(client.NewValidationError("selection", "No screenshot selected"), "")
	}
	if target == "" {
		return bulk.Result{}, c.fail(client.NewValidationError("target_folder", "Please select a target folder"), "")
	}
	return c.runBulk(ctx, bulk.Job{
		Operation:    op,
		Items:        names,
		SourceFolder: c.currentFolder(),
		TargetFolder: target,
	})
}

// Upload uploads one file into the current folder, or the server default
// on the home and aggregate views, then refreshes.
func (c *Controller) Upload(ctx context.Context, filename string, content io.Reader) error {
	folder := c.currentFolder()
	if folder == models.AllFolder {
		folder = ""
	}
	if _, err := c.api.Upload(ctx, filename, content, folder); err != nil {
		return c.fail(err, fmt.Sprintf("Failed to upload %s", filename))
	}
	c.renderer.ShowNotification(fmt.Sprintf("%s uploaded successfully", filename), Success)
	return c.RefreshCurrentView(ctx)
}

// findScreenshot looks name up in the current folder, then anywhere.
func (c *Controller) findScreenshot(ctx context.Context, name string) (models.Screenshot, error) {
	folders, err := c.store.Get(ctx, false)
	if err != nil {
		return models.Screenshot{}, err
	}
	if f, ok := models.FindFolder(folders, c.currentFolder()); ok {
		if s, ok := models.FindScreenshot(f, name); ok {
			return s, nil
		}
	}
	if s, ok := models.FindScreenshotAnywhere(folders, name); ok {
		return s, nil
	}
	return models.Screenshot{}, client.NewValidationError("name", "Screenshot name not found")
}

// ViewScreenshot opens the detail view for name. A load failure shows a
// placeholder; only authentication failures are returned.
func (c *Controller) ViewScreenshot(ctx context.Context, name string) (imageloader.Image, error) {
	shot, err := c.findScreenshot(ctx, name)
	if err != nil {
		return imageloader.Image{}, c.fail(err, "Failed to load folders")
	}

	// Opening a new image releases the previous detail handle.
	c.CloseDetail()

	img := c.loader.LoadOrPlaceholder(ctx, shot.Path, false)
	if client.IsAuth(img.Err) {
		return img, c.fail(img.Err, "")
	}

	c.mu.Lock()
	c.state.CurrentScreenshot = name
	if !img.Placeholder {
		c.state.DetailLocator = img.Handle.Locator
	}
	c.mu.Unlock()

	c.renderer.ShowDetail(shot, img)
	return img, nil
}

// CloseDetail closes the detail view and releases its image handle.
func (c *Controller) CloseDetail() {
	c.mu.Lock()
	locator := c.state.DetailLocator
	open := c.state.CurrentScreenshot != ""
	c.state.CurrentScreenshot = ""
	c.state.DetailLocator = ""
	c.mu.Unlock()

	if locator != "" && c.loader != nil {
		c.loader.Cache().Release(locator)
	}
	if open {
		c.renderer.CloseDetail()
	}
}

// Thumbnail loads the grid thumbnail for a screenshot, or a placeholder.
func (c *Controller) Thumbnail(ctx context.Context, shot models.Screenshot) imageloader.Image {
	img := c.loader.LoadOrPlaceholder(ctx, shot.Path, true)
	if client.IsAuth(img.Err) {
		c.fail(img.Err, "")
	}
	return img
}

// SaveScreenshot writes the image bytes of name to w, reusing the detail
// handle when it is still live.
func (c *Controller) SaveScreenshot(ctx context.Context, name string, w io.Writer) error {
	shot, err := c.findScreenshot(ctx, name)
	if err != nil {
		return c.fail(err, "Failed to save screenshot")
	}

	cache := c.loader.Cache()
	h, ok := cache.Get(c.loader.Resolve(shot.Path))
	if !ok {
		if h, err = c.loader.Load(ctx, shot.Path); err != nil {
			return c.fail(err, "Failed to save screenshot")
		}
		defer cache.ReleaseHandle(h)
	}

	data, err := cache.ReadAll(h)
	if err != nil {
		return c.fail(err, "Failed to save screenshot")
	}
	if _, err := w.Write(data); err != nil {
		return c.fail(err, "Failed to save screenshot")
	}
	c.renderer.ShowNotification("Screenshot saved successfully", Success)
	return nil
}
