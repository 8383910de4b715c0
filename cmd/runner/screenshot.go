package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hairizuan-noorazman/ui-orchestrator/internal/uuidutil"
	"github.com/hairizuan-noorazman/ui-orchestrator/storage"
)

// screenshotRef names one stored screenshot. Key wins over the session
// fields; a negative Action selects the final screenshot.
type screenshotRef struct {
	Key     string
	Session string
	Action  int
	N       int
}

func (r screenshotRef) key() (string, error) {
	if r.Key != "" {
		return r.Key, nil
	}
	if r.Session == "" {
		return "", errors.New("either --key or --session is required")
	}
	id, err := uuidutil.ParseSessionID(r.Session)
	if err != nil {
		return "", err
	}
	if r.Action < 0 {
		return storage.FinalKey(id), nil
	}
	n := r.N
	if n < 1 {
		n = 1
	}
	return storage.ActionKey(id, r.Action, n), nil
}

func newScreenshotCmd() *cobra.Command {
	var ref screenshotRef
	var outPath string
	var locate bool

	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Fetch a stored screenshot",
		Long:  "Fetches a screenshot persisted by an earlier run from the configured storage, or prints where it can be fetched from.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(flagConfig)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			blob, err := storage.New(cmd.Context(), storage.Config{
				Type:          cfg.Storage.Type,
				BaseDir:       cfg.Storage.BaseDir,
				S3Bucket:      cfg.Storage.S3Bucket,
				S3Region:      cfg.Storage.S3Region,
				S3Endpoint:    cfg.Storage.S3Endpoint,
				PresignExpiry: cfg.Storage.S3PresignExpiry,
			})
			if err != nil {
				return err
			}
			store := storage.NewScreenshotStore(blob)
			if store == nil {
				return errors.New("no screenshot storage configured")
			}
			return fetchScreenshot(cmd.Context(), cmd.OutOrStdout(), store, ref, outPath, locate)
		},
	}

	cmd.Flags().StringVar(&ref.Key, "key", "", "storage key of the screenshot")
	cmd.Flags().StringVar(&ref.Session, "session", "", "session id")
	cmd.Flags().IntVar(&ref.Action, "action", -1, "action index (negative selects the final screenshot)")
	cmd.Flags().IntVar(&ref.N, "n", 1, "capture number within the action")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the image to this file instead of stdout")
	cmd.Flags().BoolVar(&locate, "url", false, "print the screenshot's location instead of its bytes")
	return cmd
}

func fetchScreenshot(ctx context.Context, w io.Writer, store *storage.ScreenshotStore, ref screenshotRef, outPath string, locate bool) error {
	key, err := ref.key()
	if err != nil {
		return err
	}

	if locate {
		url, err := store.URL(ctx, key)
		if err != nil {
			return fmt.Errorf("locate %s: %w", key, err)
		}
		_, err = fmt.Fprintln(w, url)
		return err
	}

	data, err := store.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if outPath == "" {
		_, err = w.Write(data)
		return err
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	fmt.Fprintf(w, "wrote %s (%d bytes)\n", outPath, len(data))
	return nil
}
