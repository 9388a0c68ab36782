package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/adamskus05/screenie/internal/imageloader"
	"github.com/adamskus05/screenie/internal/logging"
	"github.com/adamskus05/screenie/internal/view"
	"github.com/adamskus05/screenie/pkg/models"
)

// terminal renders the view to a text terminal and asks confirmations on
// its input.
type terminal struct {
	out    io.Writer
	errOut io.Writer
	in     *bufio.Reader
	yes    bool
	// interactive enables in-place progress lines.
	interactive bool

	mu          sync.Mutex
	progressLen int
	redirected  bool
	muted       bool
}

func newTerminal(out, errOut io.Writer, in io.Reader, yes bool) *terminal {
	t := &terminal{
		out:    out,
		errOut: errOut,
		in:     bufio.NewReader(in),
		yes:    yes,
	}
	if f, ok := errOut.(*os.File); ok {
		t.interactive = term.IsTerminal(int(f.Fd()))
	}
	return t
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func folderFlags(f models.Folder) string {
	var flags []string
	if f.IsPermanent {
		flags = append(flags, "permanent")
	}
	if f.IsStarred {
		flags = append(flags, "starred")
	}
	return strings.Join(flags, ",")
}

// mute suppresses grid output while a command navigates to the folder it
// works on.
func (t *terminal) mute(on bool) {
	t.mu.Lock()
	t.muted = on
	t.mu.Unlock()
}

// RenderFolderList is the sidebar; a one-shot command has none.
func (t *terminal) RenderFolderList(folders []models.Folder, current string) {
	logging.Debug("Folder list updated",
		logging.Int("folders", len(folders)),
		logging.String("current", current))
}

func (t *terminal) RenderFolderGrid(folders []models.Folder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.muted {
		return
	}
	t.clearProgressLocked()

	w := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tLABEL\tSCREENSHOTS\tFLAGS")
	for _, f := range folders {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", f.Name, f.Label(), len(f.Screenshots), folderFlags(f))
	}
	w.Flush()
}

func (t *terminal) RenderScreenshotGrid(folder models.Folder, selected []string) {
	marked := make(map[string]bool, len(selected))
	for _, n := range selected {
		marked[n] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.muted {
		return
	}
	t.clearProgressLocked()

	fmt.Fprintf(t.out, "%s (%d screenshots)\n", folder.Label(), len(folder.Screenshots))
	w := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, " \tNAME\tSIZE\tMODIFIED")
	for _, s := range folder.Screenshots {
		mark := " "
		if marked[s.Name] {
			mark = "*"
		}
		modified := "-"
		if !s.Modified.IsZero() {
			modified = s.Modified.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, s.Name, humanSize(s.Size), modified)
	}
	w.Flush()
}

func (t *terminal) RenderSelection(active bool, count int) {
	logging.Debug("Selection updated", logging.Bool("active", active), logging.Int("count", count))
}

func (t *terminal) ShowProgress(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.interactive {
		logging.Debug(message)
		return
	}
	pad := ""
	if n := t.progressLen - len(message); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprintf(t.errOut, "\r%s%s", message, pad)
	t.progressLen = len(message)
}

func (t *terminal) HideProgress() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearProgressLocked()
}

func (t *terminal) clearProgressLocked() {
	if t.progressLen == 0 {
		return
	}
	fmt.Fprintf(t.errOut, "\r%s\r", strings.Repeat(" ", t.progressLen))
	t.progressLen = 0
}

func (t *terminal) ShowNotification(message string, kind view.NotificationKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearProgressLocked()
	if kind == view.Failure {
		fmt.Fprintf(t.errOut, "Error: %s\n", message)
		return
	}
	fmt.Fprintln(t.out, message)
}

func (t *terminal) ShowDetail(shot models.Screenshot, img imageloader.Image) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearProgressLocked()

	w := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", shot.Name)
	fmt.Fprintf(w, "Path:\t%s\n", shot.Path)
	fmt.Fprintf(w, "Size:\t%s\n", humanSize(shot.Size))
	if !shot.Created.IsZero() {
		fmt.Fprintf(w, "Created:\t%s\n", shot.Created.Local().Format("2006-01-02 15:04:05"))
	}
	if img.Placeholder {
		fmt.Fprintf(w, "Image:\tunavailable\n")
	} else {
		h := img.Handle
		fmt.Fprintf(w, "Image:\t%dx%d %s\n", h.Width, h.Height, h.ContentType)
		fmt.Fprintf(w, "Cached:\t%s\n", h.Path)
	}
	w.Flush()
}

func (t *terminal) CloseDetail() {}

// suppressRedirect silences the login prompt, for commands that end the
// session on purpose.
func (t *terminal) suppressRedirect() {
	t.mu.Lock()
	t.redirected = true
	t.mu.Unlock()
}

func (t *terminal) RedirectToLogin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearProgressLocked()
	if t.redirected {
		return
	}
	t.redirected = true
	fmt.Fprintln(t.errOut, "Not signed in. Run 'screenie login' first.")
}

// Confirm asks a yes/no question. Anything but y or yes declines.
func (t *terminal) Confirm(message string) bool {
	if t.yes {
		return true
	}
	t.mu.Lock()
	t.clearProgressLocked()
	fmt.Fprintf(t.errOut, "%s [y/N]: ", message)
	t.mu.Unlock()

	answer, err := t.in.ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
