package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/idlab-discover/sdnscen/internal/runner"
	"github.com/idlab-discover/sdnscen/internal/topology"
)

type runCommand struct {
	app  *app
	Args struct {
		Paths []string `positional-arg-name:"scenario" description:"Scenario files or directories" required:"1"`
	} `positional-args:"yes"`
}

func (c *runCommand) Execute([]string) error {
	h, err := c.app.harness(c.app.ctx)
	if err != nil {
		return err
	}
	defer h.log.Sync() //nolint:errcheck

	var paths []string
	for _, p := range c.Args.Paths {
		fi, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("opening scenario %s: %w", p, err)
		}
		if !fi.IsDir() {
			paths = append(paths, p)
			continue
		}
		found, err := runner.ScenarioFiles(p)
		if err != nil {
			return err
		}
		paths = append(paths, found...)
	}
	h.log.Info("scenarios found", zap.Int("count", len(paths)), zap.String("backend", h.cfg.Backend.Type))
	return summarize(h.runner.RunAll(c.app.ctx, paths))
}

type watchCommand struct {
	app      *app
	Interval time.Duration `short:"i" long:"interval" description:"Poll interval" default:"1s"`
	Args     struct {
		Dir string `positional-arg-name:"dir" description:"Directory to watch for scenario files" required:"yes"`
	} `positional-args:"yes"`
}

func (c *watchCommand) Execute([]string) error {
	h, err := c.app.harness(c.app.ctx)
	if err != nil {
		return err
	}
	defer h.log.Sync() //nolint:errcheck
	return h.runner.Watch(c.app.ctx, c.Args.Dir, c.Interval)
}

type topoCommand struct {
	List   bool   `short:"l" long:"list" description:"List the catalog"`
	Params string `short:"p" long:"params" description:"Parameters, e.g. spine_count=2,leaf_count=4"`
	Args   struct {
		Name string `positional-arg-name:"name" description:"Topology name"`
	} `positional-args:"yes"`
}

func (c *topoCommand) Execute([]string) error {
	catalog := topology.DefaultCatalog()
	if c.List || c.Args.Name == "" {
		return listCatalog(catalog)
	}
	params, err := topology.ParseParams(c.Params)
	if err != nil {
		return err
	}
	g, err := catalog.Build(c.Args.Name, params)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(g)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func listCatalog(catalog *topology.Catalog) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, name := range catalog.Names() {
		e, err := catalog.Describe(name)
		if err != nil {
			return err
		}
		var params []string
		for _, p := range e.Schema {
			switch {
			case p.Required:
				params = append(params, p.Name+" (required)")
			default:
				params = append(params, p.Name+"="+p.Default)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, e.Doc, strings.Join(params, ", "))
	}
	return w.Flush()
}

type preflightCommand struct {
	app *app
}

func (c *preflightCommand) Execute([]string) error {
	h, err := c.app.harness(c.app.ctx)
	if err != nil {
		return err
	}
	if h.controller == nil {
		return fmt.Errorf("no controller configured for backend %s", h.cfg.Backend.Type)
	}
	if err := preflight(c.app.ctx, h.controller, h.log); err != nil {
		return err
	}
	devices, err := h.controller.Devices(c.app.ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\tavailable=%t\n", d.ID, d.Type, d.Available)
	}
	return w.Flush()
}
