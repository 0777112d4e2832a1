package runner

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/radovskyb/watcher"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often Watch polls the scenario directory.
const DefaultPollInterval = time.Second

var scenarioFileRe = regexp.MustCompile(`(?i)\.ya?ml$`)

// Watch runs every scenario file created or rewritten in dir until ctx is done. Files already
// present when the watch starts are not run. Runs are queued onto a single worker, in the
// order the events arrive.
func (r *Runner) Watch(ctx context.Context, dir string, interval time.Duration) error {
	if interval < time.Millisecond {
		interval = DefaultPollInterval
	}
	w := watcher.New()
	w.FilterOps(watcher.Create, watcher.Write)
	w.AddFilterHook(watcher.RegexFilterHook(scenarioFileRe, false))
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	queue := make(chan Request, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Worker(ctx, queue, nil)
	}()

	errs := make(chan error, 1)
	go func() {
		errs <- w.Start(interval)
	}()
	w.Wait()
	defer func() {
		w.Close()
		close(queue)
		wg.Wait()
	}()

	r.log.Info("watching for scenarios", zap.String("dir", dir), zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case err := <-w.Error:
			r.log.Warn("watch error", zap.Error(err))
		case ev := <-w.Event:
			if ev.IsDir() {
				continue
			}
			r.log.Info("scenario file changed", zap.String("op", ev.Op.String()), zap.String("path", ev.Path))
			select {
			case queue <- Request{Path: ev.Path}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
