package view

import (
	"github.com/adamskus05/screenie/internal/imageloader"
	"github.com/adamskus05/screenie/pkg/models"
)

// NotificationKind classifies a user notification.
type NotificationKind string

const (
	Success NotificationKind = "success"
	Failure NotificationKind = "error"
)

// Renderer draws the UI. The controller calls it after every state change.
type Renderer interface {
	RenderFolderList(folders []models.Folder, current string)
	RenderFolderGrid(folders []models.Folder)
	RenderScreenshotGrid(folder models.Folder, selected []string)
	RenderSelection(active bool, count int)
	ShowProgress(message string)
	HideProgress()
	ShowNotification(message string, kind NotificationKind)
	ShowDetail(shot models.Screenshot, img imageloader.Image)
	CloseDetail()
	RedirectToLogin()
}

// Confirmer asks the user a yes/no question before destructive actions.
type Confirmer interface {
	Confirm(message string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(message string) bool

func (f ConfirmFunc) Confirm(message string) bool { return f(message) }

// AlwaysConfirm answers yes to every question.
var AlwaysConfirm = ConfirmFunc(func(string) bool { return true })
