package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	plua "github.com/dshills/blockhost/internal/plugin/lua"
	"github.com/dshills/blockhost/internal/plugin/exports"
	"github.com/dshills/blockhost/internal/plugin/proc"
	"github.com/dshills/blockhost/internal/plugin/security"
	"github.com/dshills/blockhost/internal/plugin/value"
	"github.com/dshills/blockhost/internal/uievent"
)

// ServerInfo describes one managed server.
type ServerInfo struct {
	ID      string
	Name    string
	Status  string
	Version string
	Port    int
	Players int
}

// ServerProvider is the server-process collaborator.
type ServerProvider interface {
	List() ([]ServerInfo, error)
	Status(id string) (ServerInfo, error)
	SendCommand(id, command string) error
	Logs(id string, lines int) ([]string, error)
}

// LocaleProvider is the locale and translation collaborator.
type LocaleProvider interface {
	Locale() string
	RegisterTranslations(owner, locale string, entries map[string]string) error
	UnregisterTranslations(owner string) int
	Translate(owner, key string, vars map[string]string) string
}

// Paths are the shared roots a plugin may be granted.
type Paths struct {
	Servers string
	Global  string
}

// Context carries host services shared by every plugin runtime. It is built
// once and read concurrently.
type Context struct {
	Log      logrus.FieldLogger
	Bus      *uievent.Bus
	Broker   *uievent.Broker
	Exports  *exports.Registry
	Servers  ServerProvider
	Locale   LocaleProvider
	Commands security.CommandPolicy
	NetGuard *security.NetGuard
	HTTP     *http.Client
	Rates    *security.RateLimiters
	Limits   security.Limits
	Paths    Paths
	Version  string
}

// NewContext fills in defaults for any unset service.
func NewContext(c Context) *Context {
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	if c.Limits == (security.Limits{}) {
		c.Limits = security.DefaultLimits()
	}
	if c.Bus == nil {
		c.Bus = uievent.NewBus(c.Log)
	}
	if c.Broker == nil {
		c.Broker = uievent.NewBroker()
	}
	if c.Exports == nil {
		c.Exports = exports.NewRegistry()
	}
	if c.NetGuard == nil {
		c.NetGuard = security.NewNetGuard(nil)
	}
	if c.HTTP == nil {
		c.HTTP = NewHTTPClient(c.NetGuard, c.Limits.HTTPTimeout)
	}
	if c.Rates == nil {
		c.Rates = security.NewRateLimiters(c.Limits.HTTPRequestsPerSec, c.Limits.HTTPBurst)
	}
	if c.Commands.MaxLength == 0 {
		c.Commands.MaxLength = c.Limits.ConsoleMaxCommandLength
	}
	return &c
}

const maxRedirects = 5

// NewHTTPClient returns a client whose dialer and redirects are checked by
// guard.
func NewHTTPClient(guard *security.NetGuard, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           guard.DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			_, err := guard.Check(req.Context(), req.URL.String())
			return err
		},
	}
}

// Env is the per-plugin state capability modules act on.
type Env struct {
	PluginID   string
	Name       string
	Version    string
	InstallDir string
	DataDir    string

	Checker *security.PermissionChecker
	State   *plua.State
	Procs   *proc.Registry

	// StorageMu serializes mutations of the storage document.
	StorageMu *sync.Mutex

	// Settings returns the plugin's current settings.
	Settings func() value.Value
}

// logger returns a logger scoped to the plugin.
func (e *Env) logger(ctx *Context) logrus.FieldLogger {
	return ctx.Log.WithField("plugin", e.PluginID)
}
