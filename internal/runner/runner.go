// Package runner schedules scenario files onto an orchestrator, one at a time, and stores
// each run's report in its own output directory.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/idlab-discover/sdnscen/internal/scenarios"
)

// Executor runs one scenario. *scenarios.Orchestrator implements it.
type Executor interface {
	Run(ctx context.Context, def *scenarios.Definition) (*scenarios.Report, error)
}

// Request asks for the scenario file at Path to be run.
type Request struct {
	Path string
}

// Result is the outcome of one Request. Report is nil when the file could not be loaded.
type Result struct {
	Path      string
	OutputDir string
	Report    *scenarios.Report
	Err       error
}

type Runner struct {
	exec      Executor
	outputDir string
	log       *zap.Logger
}

func New(exec Executor, outputDir string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{exec: exec, outputDir: outputDir, log: logger.Named("runner")}
}

// Worker runs requests from ch until it is closed or ctx is done. Results are sent on results
// when it is not nil.
func (r *Runner) Worker(ctx context.Context, ch <-chan Request, results chan<- Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-ch:
			if !ok {
				return
			}
			res := r.RunFile(ctx, req.Path)
			if res.Err != nil {
				r.log.Error("scenario run failed", zap.String("path", req.Path), zap.Error(res.Err))
			}
			if results != nil {
				results <- res
			}
		}
	}
}

// RunFile loads the scenario at path, runs it and writes its report.
func (r *Runner) RunFile(ctx context.Context, path string) Result {
	res := Result{Path: path}
	def, err := scenarios.Load(path)
	if err != nil {
		res.Err = err
		return res
	}
	r.log.Info("scenario loaded", zap.String("name", def.Name), zap.String("path", path))

	res.OutputDir, err = mkdirScenarioOutput(r.outputDir, def.Name)
	if err != nil {
		res.Err = fmt.Errorf("creating scenario output folder: %w", err)
		return res
	}
	def.OutputDir = res.OutputDir

	res.Report, res.Err = r.exec.Run(ctx, def)
	if res.Report == nil {
		return res
	}
	if err := scenarios.WriteReport(res.Report, res.OutputDir); err != nil {
		r.log.Error("could not write report", zap.String("dir", res.OutputDir), zap.Error(err))
		if res.Err == nil {
			res.Err = err
		}
	}
	r.log.Info("scenario finished",
		zap.String("name", def.Name), zap.String("state", string(res.Report.State)), zap.String("output", res.OutputDir))
	return res
}

// RunAll runs every path in order on a single worker. A backend models one network at a
// time, so scenarios never overlap.
func (r *Runner) RunAll(ctx context.Context, paths []string) []Result {
	ch := make(chan Request)
	results := make(chan Result, len(paths))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Worker(ctx, ch, results)
	}()

send:
	for _, p := range paths {
		select {
		case ch <- Request{Path: p}:
		case <-ctx.Done():
			break send
		}
	}
	close(ch)
	wg.Wait()
	close(results)

	out := make([]Result, 0, len(paths))
	for res := range results {
		out = append(out, res)
	}
	return out
}

// ScenarioFiles lists the YAML files directly inside dir, sorted by name.
func ScenarioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsScenarioFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func IsScenarioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func mkdirScenarioOutput(outputDir, name string) (string, error) {
	dir := filepath.Join(outputDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
