package apps

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultProbeTimeout = 500 * time.Millisecond
	DefaultProbeHost    = "127.0.0.1"
)

// Prober reports whether something accepts connections on a port.
type Prober interface {
	Probe(ctx context.Context, port int) bool
}

// DialProber probes with a TCP connect.
type DialProber struct {
	Host    string
	Timeout time.Duration
}

// Probe implements Prober.
func (p DialProber) Probe(ctx context.Context, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(p.Host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Options configures a Registry.
type Options struct {
	EnvPath       string
	DefaultDomain string
	ProbeHost     string
	ProbeTimeout  time.Duration
	// Prober overrides the TCP prober built from ProbeHost and ProbeTimeout.
	Prober Prober
	Logger *zap.Logger
}

// AppStatus is an App with its public URL and probed status.
type AppStatus struct {
	App
	URL    string `json:"url"`
	Status Status `json:"status"`
}

// Listing is the response body of the apps endpoint.
type Listing struct {
	Domain         string      `json:"domain"`
	OpencodeDomain string      `json:"opencodeDomain"`
	Apps           []AppStatus `json:"apps"`
}

// Registry reads the workspace env file and probes the listed apps.
//
// Without Watch the file is read on every call. While Watch runs the parsed
// workspace is cached until the file changes.
type Registry struct {
	opts   Options
	prober Prober
	log    *zap.Logger

	mu       sync.Mutex
	watching bool
	cached   *Workspace
	gen      uint64
}

// NewRegistry creates a Registry.
func NewRegistry(opts Options) *Registry {
	if opts.DefaultDomain == "" {
		opts.DefaultDomain = "localhost"
	}
	if opts.ProbeHost == "" {
		opts.ProbeHost = DefaultProbeHost
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	prober := opts.Prober
	if prober == nil {
		prober = DialProber{Host: opts.ProbeHost, Timeout: opts.ProbeTimeout}
	}
	return &Registry{
		opts:   opts,
		prober: prober,
		log:    opts.Logger.Named("apps"),
	}
}

// Workspace returns the parsed env file, or defaults when it cannot be read.
func (r *Registry) Workspace() Workspace {
	r.mu.Lock()
	if r.cached != nil {
		w := *r.cached
		r.mu.Unlock()
		return w
	}
	watching, gen := r.watching, r.gen
	r.mu.Unlock()

	w := r.load()
	if watching {
		r.mu.Lock()
		// A change seen during the read leaves the cache empty.
		if r.watching && r.gen == gen {
			r.cached = &w
		}
		r.mu.Unlock()
	}
	return w
}

func (r *Registry) load() Workspace {
	vars, err := godotenv.Read(r.opts.EnvPath)
	if err != nil {
		r.log.Debug("workspace env unavailable, using defaults",
			zap.String("path", r.opts.EnvPath), zap.Error(err))
		return Defaults(r.opts.DefaultDomain)
	}
	return Parse(vars, r.opts.DefaultDomain)
}

// Invalidate drops the cached workspace.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.gen++
	r.mu.Unlock()
}

// List probes every app concurrently.
func (r *Registry) List(ctx context.Context) (Listing, error) {
	w := r.Workspace()
	out := Listing{
		Domain:         w.Domain,
		OpencodeDomain: w.OpencodeDomain,
		Apps:           make([]AppStatus, len(w.Apps)),
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, app := range w.Apps {
		out.Apps[i] = AppStatus{App: app, URL: w.URL(app.Slug), Status: StatusDown}
		port := app.ProbePort()
		if port == 0 {
			continue
		}
		i := i
		g.Go(func() error {
			if r.prober.Probe(gctx, port) {
				out.Apps[i].Status = StatusUp
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Listing{}, err
	}
	if err := ctx.Err(); err != nil {
		return Listing{}, err
	}
	return out, nil
}

// Watch caches the workspace and invalidates it whenever the env file
// changes. It blocks until ctx is done. The parent directory is watched so
// that editors replacing the file by rename are noticed.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(r.opts.EnvPath)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	r.mu.Lock()
	r.watching = true
	r.cached = nil
	r.gen++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.watching = false
		r.cached = nil
		r.gen++
		r.mu.Unlock()
	}()

	r.log.Info("watching workspace env", zap.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				r.log.Debug("workspace env changed", zap.Stringer("op", event.Op))
				r.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("watcher error", zap.Error(err))
		}
	}
}
