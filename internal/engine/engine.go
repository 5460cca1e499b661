package engine

import (
	"context"
	"errors"

	"github.com/weftworks/weft/internal/catalog"
	"github.com/weftworks/weft/internal/client"
	"github.com/weftworks/weft/internal/config"
	"github.com/weftworks/weft/internal/engine/script"
	"github.com/weftworks/weft/pkg/api"
)

type (
	// Engine executes workflow graphs. One Engine serves many concurrent
	// runs; all per-run state lives in the run value created by Execute
	Engine struct {
		catalog    catalog.Catalog
		config     *config.Config
		scripts    *script.Env
		client     client.Client
		clientExec ClientExecutor
		hooks      Hooks
	}

	// ClientExecutor runs client-environment nodes in a caller-supplied
	// environment such as a UI host
	ClientExecutor func(
		ctx context.Context, id api.NodeID, def *api.Definition,
		nc *api.NodeContext, input any,
	) (any, error)

	// Hooks are externally-supplied lifecycle callbacks. OnExecute runs
	// before each node; its failures are logged and swallowed
	Hooks struct {
		OnExecute func(def *api.Definition, nc *api.NodeContext) error
	}

	// Option configures an Engine
	Option func(*Engine)
)

var (
	ErrNilCatalog       = errors.New("engine requires a catalog")
	ErrNoClientExecutor = errors.New("no client executor configured")
	ErrNodeVisitsLimit  = errors.New("node visit limit exceeded")
	ErrNoServerClient   = errors.New("no server execution client configured")
	ErrUnknownNodeType  = errors.New("unknown node type")
	ErrUnknownStartNode = errors.New("start node not in workflow")
)

// New creates a workflow engine over the given catalog and configuration
func New(cat catalog.Catalog, cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	e := &Engine{
		catalog: cat,
		config:  cfg,
		scripts: script.NewEnv(cfg.ScriptCacheSize, cfg.ScriptTimeout),
		client:  client.NewHTTPClient(cfg.ExecEndpoint, cfg.ExecTimeout),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithClient overrides the server-environment execution client
func WithClient(c client.Client) Option {
	return func(e *Engine) {
		e.client = c
	}
}

// WithClientExecutor supplies the callback for client-environment nodes
func WithClientExecutor(fn ClientExecutor) Option {
	return func(e *Engine) {
		e.clientExec = fn
	}
}

// WithHooks supplies lifecycle hooks
func WithHooks(hooks Hooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}
