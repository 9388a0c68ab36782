// Screenie command-line client.
//
// Browses and manages screenshots stored on a screenshot server:
// - Cookie session saved between runs
// - Folder listing with starred and permanent folders first
// - Bulk move, copy and delete in bounded batches
// - Image download and thumbnails through a local handle cache
//
// Sub-commands:
//
//	screenie login                     Sign in and save the session
//	screenie logout                    Sign out and forget the session
//	screenie folders                   List folders
//	screenie ls <folder>               List screenshots in a folder
//	screenie mkdir|rmdir <folder>      Create or delete a folder
//	screenie star <folder>             Toggle a folder's star
//	screenie mv|cp <target> <name>...  Move or copy screenshots
//	screenie rm <name>...              Delete screenshots
//	screenie upload <file>...          Upload image files
//	screenie view|save|thumb <name>    Show, download or thumbnail a screenshot
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var shown reportedError
		if !errors.As(err, &shown) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
