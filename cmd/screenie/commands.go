package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/adamskus05/screenie/internal/imageloader"
	"github.com/adamskus05/screenie/internal/logging"
	"github.com/adamskus05/screenie/internal/view"
	"github.com/adamskus05/screenie/pkg/client"
	"github.com/adamskus05/screenie/pkg/models"
	"github.com/adamskus05/screenie/pkg/protocol"
)

// finish maps a controller error to the command result. A declined
// confirmation is not a failure.
func (a *app) finish(err error) error {
	if errors.Is(err, view.ErrCancelled) {
		fmt.Fprintln(a.term.errOut, "Cancelled.")
		return nil
	}
	return reported(err)
}

// enter navigates to folder without printing it. An empty folder is the
// home view.
func (a *app) enter(ctx context.Context, folder string) error {
	a.term.mute(true)
	defer a.term.mute(false)
	if folder == "" {
		return a.controller.Home(ctx)
	}
	return a.controller.SelectFolder(ctx, folder)
}

// selectNames navigates to folder and selects names in multi-select mode.
func (a *app) selectNames(ctx context.Context, folder string, names []string) error {
	if err := a.enter(ctx, folder); err != nil {
		return err
	}
	a.controller.EnterMultiSelect()
	for _, n := range names {
		a.controller.ToggleSelection(n)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(
		loginCommand(),
		logoutCommand(),
		foldersCommand(),
		lsCommand(),
		mkdirCommand(),
		rmdirCommand(),
		starCommand(),
		transferCommand(protocol.OpMove),
		transferCommand(protocol.OpCopy),
		rmCommand(),
		uploadCommand(),
		viewCommand(),
		saveCommand(),
		thumbCommand(),
	)
}

func loginCommand() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login [-u username]",
		Short: "Sign in and save the session",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if username == "" {
				fmt.Fprint(a.term.errOut, "Username: ")
				line, err := a.term.in.ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read username: %w", err)
				}
				username = strings.TrimSpace(line)
			}

			password, err := readPassword(a.term)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}

			if _, err := a.client.Login(ctx, username, password); err != nil {
				return err
			}
			if err := client.SaveSession(a.cfg.SessionFile, a.client.ExportSession(username)); err != nil {
				fmt.Fprintf(a.term.errOut, "Warning: failed to save session: %v\n", err)
			}
			logging.Info("Logged in", logging.String("username", username), logging.String("server", a.client.BaseURL()))
			fmt.Fprintf(a.term.out, "Logged in as %s. Session saved to %s\n", username, a.cfg.SessionFile)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (prompted when empty)")
	return cmd
}

// readPassword reads without echo on a terminal, or a plain line otherwise.
func readPassword(t *terminal) (string, error) {
	fmt.Fprint(t.errOut, "Password: ")
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(t.errOut)
		return string(b), err
	}
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			a.term.suppressRedirect()
			err := a.controller.Logout(ctx)
			if err != nil {
				logging.Debug("Server logout failed (session may already be expired)", logging.Err(err))
			}
			if err := client.DeleteSession(a.cfg.SessionFile); err != nil {
				fmt.Fprintf(a.term.errOut, "Warning: failed to delete session file: %v\n", err)
			}
			if err != nil {
				return reported(err)
			}
			fmt.Fprintln(a.term.out, "Logged out successfully.")
			return nil
		}),
	}
}

func foldersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List folders",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			return a.finish(a.controller.Init(ctx))
		}),
	}
}

func lsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [folder]",
		Short: "List the screenshots in a folder, or all folders",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if len(args) == 0 {
				return a.finish(a.controller.Home(ctx))
			}
			return a.finish(a.controller.SelectFolder(ctx, args[0]))
		}),
	}
}

func mkdirCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <folder>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := a.enter(ctx, ""); err != nil {
				return a.finish(err)
			}
			return a.finish(a.controller.CreateFolder(ctx, args[0]))
		}),
	}
}

func rmdirCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir <folder>",
		Short: "Delete a folder and all its screenshots",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := a.enter(ctx, ""); err != nil {
				return a.finish(err)
			}
			return a.finish(a.controller.DeleteFolder(ctx, args[0]))
		}),
	}
}

func starCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "star <folder>",
		Short: "Star or unstar a folder",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := a.enter(ctx, ""); err != nil {
				return a.finish(err)
			}
			if err := a.controller.ToggleStar(ctx, args[0]); err != nil {
				return a.finish(err)
			}
			folders, _ := a.store.Current()
			if f, ok := models.FindFolder(folders, args[0]); ok {
				state := "Unstarred"
				if f.IsStarred {
					state = "Starred"
				}
				fmt.Fprintf(a.term.out, "%s %s\n", state, f.Label())
			}
			return nil
		}),
	}
}

func transferCommand(op protocol.Operation) *cobra.Command {
	var from string
	use, short := "mv", "Move screenshots into a folder"
	if op == protocol.OpCopy {
		use, short = "cp", "Copy screenshots into a folder"
	}
	cmd := &cobra.Command{
		Use:   use + " [--from folder] <target> <name>...",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := a.selectNames(ctx, from, args[1:]); err != nil {
				return a.finish(err)
			}
			_, err := a.controller.MoveOrCopy(ctx, op, a.controller.Selection().Selected(), args[0])
			return a.finish(err)
		}),
	}
	cmd.Flags().StringVarP(&from, "from", "f", models.AllFolder, "Folder the screenshots are in")
	return cmd
}

func rmCommand() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "rm [--from folder] <name>...",
		Short: "Delete screenshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if len(args) == 1 {
				if err := a.enter(ctx, from); err != nil {
					return a.finish(err)
				}
				a.term.mute(true)
				defer a.term.mute(false)
				_, err := a.controller.DeleteScreenshot(ctx, args[0])
				return a.finish(err)
			}
			if err := a.selectNames(ctx, from, args); err != nil {
				return a.finish(err)
			}
			_, err := a.controller.BulkDelete(ctx)
			return a.finish(err)
		}),
	}
	cmd.Flags().StringVarP(&from, "from", "f", models.AllFolder, "Folder the screenshots are in")
	return cmd
}

func uploadCommand() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "upload [--to folder] <file>...",
		Short: "Upload image files",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := a.enter(ctx, to); err != nil {
				return a.finish(err)
			}

			a.term.mute(true)
			var failed int
			for _, path := range args {
				if err := uploadFile(ctx, a, path); err != nil {
					if client.IsAuth(err) {
						a.term.mute(false)
						return reported(err)
					}
					failed++
				}
			}
			a.term.mute(false)

			if err := a.controller.RefreshCurrentView(ctx); err != nil {
				return reported(err)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args))
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&to, "to", "t", "", "Target folder (default: the server's default folder)")
	return cmd
}

func uploadFile(ctx context.Context, a *app, path string) error {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(a.term.errOut, "Error: %v\n", err)
		return err
	}
	defer f.Close()
	return a.controller.Upload(ctx, filepath.Base(path), bufio.NewReader(f))
}

func viewCommand() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "view [--from folder] <name>",
		Short: "Download a screenshot and show its details",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := a.enter(ctx, from); err != nil {
				return a.finish(err)
			}
			_, err := a.controller.ViewScreenshot(ctx, args[0])
			return a.finish(err)
		}),
	}
	cmd.Flags().StringVarP(&from, "from", "f", models.AllFolder, "Folder the screenshot is in")
	return cmd
}

func saveCommand() *cobra.Command {
	var from, output string
	cmd := &cobra.Command{
		Use:   "save [--from folder] [-o file] <name>",
		Short: "Save a screenshot to a file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := a.enter(ctx, from); err != nil {
				return a.finish(err)
			}
			if output == "" {
				output = args[0]
			}
			return writeOutput(a, output, func(w io.Writer) error {
				return a.finish(a.controller.SaveScreenshot(ctx, args[0], w))
			})
		}),
	}
	cmd.Flags().StringVarP(&from, "from", "f", models.AllFolder, "Folder the screenshot is in")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout (default: the screenshot name)")
	return cmd
}

func thumbCommand() *cobra.Command {
	var from, output string
	cmd := &cobra.Command{
		Use:   "thumb [--from folder] [-o file] <name>",
		Short: "Save a JPEG thumbnail of a screenshot",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := a.enter(ctx, from); err != nil {
				return a.finish(err)
			}
			folders, err := a.store.Get(ctx, false)
			if err != nil {
				return err
			}
			shot, ok := lookup(folders, from, args[0])
			if !ok {
				return fmt.Errorf("screenshot %q not found", args[0])
			}

			img := a.controller.Thumbnail(ctx, shot)
			if client.IsAuth(img.Err) {
				return reported(img.Err)
			}
			if output == "" {
				output = strings.TrimSuffix(shot.Name, filepath.Ext(shot.Name)) + ".thumb.jpg"
				if img.Placeholder {
					output = strings.TrimSuffix(output, ".jpg") + ".svg"
				}
			}
			return writeOutput(a, output, func(w io.Writer) error {
				if img.Placeholder {
					fmt.Fprintf(a.term.errOut, "Warning: thumbnail unavailable, writing placeholder: %v\n", img.Err)
					_, err := io.WriteString(w, imageloader.PlaceholderSVG)
					return err
				}
				data, err := a.cache.ReadAll(img.Handle)
				if err != nil {
					return err
				}
				_, err = w.Write(data)
				return err
			})
		}),
	}
	cmd.Flags().StringVarP(&from, "from", "f", models.AllFolder, "Folder the screenshot is in")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout")
	return cmd
}

func lookup(folders []models.Folder, folder, name string) (models.Screenshot, bool) {
	if f, ok := models.FindFolder(folders, folder); ok {
		if s, ok := models.FindScreenshot(f, name); ok {
			return s, true
		}
	}
	return models.FindScreenshotAnywhere(folders, name)
}

// writeOutput runs write against path, or stdout for "-". A file is
// written to a temp name and renamed once complete.
func writeOutput(a *app, path string, write func(io.Writer) error) error {
	if path == "-" {
		// Keep stdout clean for the image bytes.
		a.term.out = a.term.errOut
		return write(os.Stdout)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
