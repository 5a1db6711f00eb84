// Package apps lists the workspace's locally hosted apps and reports whether
// each one is reachable.
package apps

import (
	"strconv"
	"strings"
)

// Type identifies how an app is served.
type Type string

const (
	TypeFrontend  Type = "frontend"
	TypeFullstack Type = "fullstack"
	TypeLaravel   Type = "laravel"
)

// Status is the reachability of an app.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// App is one entry of the workspace APPS variable.
type App struct {
	Slug         string   `json:"slug"`
	Type         Type     `json:"type"`
	FrontendPort *int     `json:"frontendPort"`
	BackendPort  *int     `json:"backendPort"`
	Options      []string `json:"options"`
}

// ProbePort returns the port whose reachability decides the app's status,
// or 0 when there is none.
func (a App) ProbePort() int {
	port := a.FrontendPort
	if a.Type == TypeLaravel {
		port = a.BackendPort
	}
	if port == nil || *port <= 0 {
		return 0
	}
	return *port
}

// Workspace is the parsed workspace environment.
type Workspace struct {
	Domain         string
	OpencodeDomain string
	Apps           []App
}

// URL returns the public URL of an app under the workspace domain.
func (w Workspace) URL(slug string) string {
	return "https://" + w.Domain + "/" + slug + "/"
}

// Defaults returns the workspace used when no env file can be read.
func Defaults(domain string) Workspace {
	return Workspace{
		Domain:         domain,
		OpencodeDomain: "opencode." + domain,
		Apps:           []App{},
	}
}

// Parse builds a Workspace from env variables. APPS takes precedence over
// the legacy VITE_APPS format.
func Parse(vars map[string]string, defaultDomain string) Workspace {
	w := Defaults(defaultDomain)
	if d := vars["DOMAIN"]; d != "" {
		w.Domain = d
	}
	w.OpencodeDomain = "opencode." + w.Domain
	if oc := vars["OPENCODE_SUBDOMAIN"]; oc != "" {
		w.OpencodeDomain = oc
	}

	if entries := strings.Fields(vars["APPS"]); len(entries) > 0 {
		for _, entry := range entries {
			if app, ok := parseEntry(entry); ok {
				w.Apps = append(w.Apps, app)
			}
		}
		return w
	}

	for _, entry := range strings.Fields(vars["VITE_APPS"]) {
		if app, ok := parseLegacyEntry(entry); ok {
			w.Apps = append(w.Apps, app)
		}
	}
	return w
}

// parseEntry parses slug:type:frontendPort[:backendPort[:opt1,opt2]].
func parseEntry(entry string) (App, bool) {
	if !strings.Contains(entry, ":") {
		return App{}, false
	}
	parts := strings.Split(entry, ":")
	app := App{
		Slug:    parts[0],
		Type:    TypeFrontend,
		Options: []string{},
	}
	if len(parts) > 1 && parts[1] != "" {
		app.Type = Type(parts[1])
	}
	if len(parts) > 2 {
		app.FrontendPort = parsePort(parts[2])
	}
	if len(parts) > 3 {
		app.BackendPort = parsePort(parts[3])
	}
	if len(parts) > 4 && parts[4] != "" {
		app.Options = strings.Split(parts[4], ",")
	}
	return app, true
}

// parseLegacyEntry parses slug:port.
func parseLegacyEntry(entry string) (App, bool) {
	slug, port, ok := strings.Cut(entry, ":")
	if !ok {
		return App{}, false
	}
	if i := strings.IndexByte(port, ':'); i >= 0 {
		port = port[:i]
	}
	return App{
		Slug:         slug,
		Type:         TypeFrontend,
		FrontendPort: parsePort(port),
		Options:      []string{},
	}, true
}

func parsePort(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
