// Package proxy manages the Nginx reverse-proxy route for a deployment.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/skiff-cd/skiff/remote"
)

const (
	sitesAvailableDir = "/etc/nginx/sites-available"
	sitesEnabledDir   = "/etc/nginx/sites-enabled"
)

// Route maps the public port to the application's internal port. There is at
// most one route per logical name: configuring a route replaces any previous
// definition under the same name.
type Route struct {
	Name         string
	PublicPort   int
	InternalPort int
}

// ConfigPath is the site definition file, keyed by the logical name.
func (r Route) ConfigPath() string {
	return filepath.Join(sitesAvailableDir, r.Name)
}

// EnabledPath is the enabled-site reference for the definition.
func (r Route) EnabledPath() string {
	return filepath.Join(sitesEnabledDir, r.Name)
}

var routeTemplate = template.Must(template.New("route").Parse(`server {
    listen {{.PublicPort}};
    server_name _;

    location / {
        proxy_pass http://127.0.0.1:{{.InternalPort}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_read_timeout 300s;
    }
}
`))

// Render produces the Nginx server block for the route.
func Render(r Route) (string, error) {
	var b strings.Builder
	if err := routeTemplate.Execute(&b, r); err != nil {
		return "", fmt.Errorf("failed to render proxy route: %w", err)
	}
	return b.String(), nil
}

type Configurator struct {
	runner remote.Runner
}

func New(runner remote.Runner) *Configurator {
	return &Configurator{runner: runner}
}

// Configure writes the route definition, replaces the enabled reference, and
// reloads Nginx. The configuration is syntax-checked first; the live daemon
// is never reloaded with an unverified config.
func (c *Configurator) Configure(ctx context.Context, r Route) error {
	slog.Info("Configuring proxy route",
		"name", r.Name,
		"public_port", r.PublicPort,
		"internal_port", r.InternalPort)

	conf, err := Render(r)
	if err != nil {
		return err
	}

	// The config travels over stdin, not through the remote shell
	res, err := c.runner.RunWithInput(ctx,
		remote.Cmd("sudo", "tee", r.ConfigPath()), strings.NewReader(conf))
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("failed to write proxy config %s: %s", r.ConfigPath(), res.Stderr)
	}

	res, err = c.runner.Run(ctx,
		remote.Cmd("sudo", "ln", "-sf", r.ConfigPath(), r.EnabledPath()))
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("failed to enable proxy route: %s", res.Stderr)
	}

	if err := c.validateAndReload(ctx); err != nil {
		return err
	}

	slog.Info("Proxy route configured", "name", r.Name)
	return nil
}

// Remove deletes the route definition and its enabled reference, reloading
// Nginx only when a route actually existed. No-op safe.
func (c *Configurator) Remove(ctx context.Context, name string) (bool, error) {
	r := Route{Name: name}

	existed := c.runner.RunQuiet(ctx, remote.Cmd("test", "-e", r.EnabledPath())) ||
		c.runner.RunQuiet(ctx, remote.Cmd("test", "-e", r.ConfigPath()))
	if !existed {
		slog.Debug("No proxy route to remove", "name", name)
		return false, nil
	}

	res, err := c.runner.Run(ctx,
		remote.Cmd("sudo", "rm", "-f", r.EnabledPath(), r.ConfigPath()))
	if err != nil {
		return false, err
	}
	if !res.OK() {
		return false, fmt.Errorf("failed to remove proxy route: %s", res.Stderr)
	}

	if err := c.validateAndReload(ctx); err != nil {
		return true, err
	}

	slog.Info("Proxy route removed", "name", name)
	return true, nil
}

func (c *Configurator) validateAndReload(ctx context.Context) error {
	res, err := c.runner.Run(ctx, remote.Cmd("sudo", "nginx", "-t"))
	if err != nil {
		return err
	}
	if !res.OK() {
		slog.Error("Service operation failed",
			"layer", "proxy",
			"operation", "nginx_validate",
			"stderr", res.Stderr)
		return fmt.Errorf("nginx configuration test failed, not reloading: %s", res.Stderr)
	}

	res, err = c.runner.Run(ctx, remote.Cmd("sudo", "systemctl", "reload", "nginx"))
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("failed to reload nginx: %s", res.Stderr)
	}
	return nil
}
