package cli

import (
	"context"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/matzehuels/apm/pkg/descriptor"
	"github.com/matzehuels/apm/pkg/errors"
)

// watchDebounce batches the several events editors emit for one save.
const watchDebounce = 200 * time.Millisecond

// watch runs fn once, then again after every change to the project's
// package.json, until the context is canceled. Failed runs are reported
// and watching continues.
func (c *CLI) watch(cmd *cobra.Command, fn func(ctx context.Context) error) error {
	project, err := descriptor.FindProject(c.dir)
	if err != nil {
		return err
	}
	if project.InMemory {
		return errors.New(errors.ErrCodeInvalidInput, "--watch needs a %s in %s", descriptor.FileName, project.Dir)
	}
	return watchFile(cmd.Context(), project.DescriptorPath(), watchDebounce, c.Logger, func(ctx context.Context) {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			PrintError(err)
		}
		printInfo("Watching %s for changes", project.DescriptorPath())
	})
}

// watchFile calls run now and once per burst of changes to target, where a
// burst ends after quiet passes without another event.
func watchFile(ctx context.Context, target string, quiet time.Duration, logger *log.Logger, run func(context.Context)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create file watcher")
	}
	defer w.Close()

	// Watch the directory: editors often replace the file instead of
	// writing it in place.
	target = filepath.Clean(target)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "watch %s", filepath.Dir(target))
	}

	run(ctx)

	timer := time.NewTimer(quiet)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			logger.Debug("descriptor changed", "op", ev.Op.String())
			timer.Reset(quiet)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "err", err)
		case <-timer.C:
			run(ctx)
		}
	}
}
