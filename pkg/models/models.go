// Package models contains the folder and screenshot types shared by the client packages.
package models

import (
	"strings"
	"time"
)

// AllFolder is the name of the synthetic aggregate folder.
const AllFolder = "all"

// Screenshot is a single stored image. Name is unique within its folder.
type Screenshot struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Created  Timestamp `json:"created"`
	Modified Timestamp `json:"modified"`
	Size     int64     `json:"size"`
}

// Folder is a named group of screenshots.
type Folder struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	IsPermanent bool         `json:"is_permanent"`
	IsStarred   bool         `json:"is_starred"`
	Screenshots []Screenshot `json:"screenshots"`
}

// Label returns the user-facing name, falling back to Name.
func (f Folder) Label() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return f.Name
}

// IsAll reports whether f is the aggregate folder.
func (f Folder) IsAll() bool {
	return f.Name == AllFolder
}

// Clone returns a deep copy of the folder.
func (f Folder) Clone() Folder {
	out := f
	if f.Screenshots != nil {
		out.Screenshots = make([]Screenshot, len(f.Screenshots))
		copy(out.Screenshots, f.Screenshots)
	}
	return out
}

// FolderSnapshot is a point-in-time view of the remote folder listing.
type FolderSnapshot struct {
	Folders   []Folder  `json:"folders"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Age returns how old the snapshot is at now.
func (s *FolderSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// CloneFolders returns a deep copy of the snapshot's folders.
func (s *FolderSnapshot) CloneFolders() []Folder {
	if s == nil {
		return nil
	}
	out := make([]Folder, len(s.Folders))
	for i, f := range s.Folders {
		out[i] = f.Clone()
	}
	return out
}

// FindFolder returns the folder with the given name.
func FindFolder(folders []Folder, name string) (Folder, bool) {
	for _, f := range folders {
		if f.Name == name {
			return f, true
		}
	}
	return Folder{}, false
}

// FindScreenshot returns the screenshot with the given name inside folder.
func FindScreenshot(folder Folder, name string) (Screenshot, bool) {
	for _, s := range folder.Screenshots {
		if s.Name == name {
			return s, true
		}
	}
	return Screenshot{}, false
}

// LocateScreenshot finds which concrete (non-aggregate) folders hold a
// screenshot with the given name.
func LocateScreenshot(folders []Folder, name string) []string {
	var owners []string
	for _, f := range folders {
		if f.IsAll() {
			continue
		}
		if _, ok := FindScreenshot(f, name); ok {
			owners = append(owners, f.Name)
		}
	}
	return owners
}

// FindScreenshotAnywhere returns the first screenshot with the given name in
// any folder, preferring concrete folders over the aggregate one.
func FindScreenshotAnywhere(folders []Folder, name string) (Screenshot, bool) {
	var fallback *Screenshot
	for _, f := range folders {
		s, ok := FindScreenshot(f, name)
		if !ok {
			continue
		}
		if !f.IsAll() {
			return s, true
		}
		if fallback == nil {
			fallback = &s
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Screenshot{}, false
}

// FolderFromLocator extracts the folder segment from a screenshot locator of
// the form ".../user_<n>/<folder>/<filename>". Both slash styles are accepted.
func FolderFromLocator(locator string) (string, bool) {
	parts := strings.FieldsFunc(locator, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	for i, part := range parts {
		if !strings.HasPrefix(part, "user_") {
			continue
		}
		// Need both a folder and a filename after the user scope.
		if i+2 < len(parts) && parts[i+1] != "" {
			return parts[i+1], true
		}
		return "", false
	}
	return "", false
}

// CountScreenshots returns the number of screenshots in concrete folders.
func CountScreenshots(folders []Folder) int {
	n := 0
	for _, f := range folders {
		if f.IsAll() {
			continue
		}
		n += len(f.Screenshots)
	}
	return n
}
