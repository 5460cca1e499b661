package engine

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Services is the per-run runtime state every node sees: run identity,
// environment values, secrets, the outbound HTTP client, and the debug
// buffer. One Services value is constructed per execute call; there is no
// package-level mutable state shared across runs
type Services struct {
	RunID   string
	Env     map[string]string
	secrets map[string]string
	HTTP    *http.Client

	mu    sync.Mutex
	debug []string
}

const defaultHelperTimeout = 15 * time.Second

// NewServices creates the runtime services for a single run
func NewServices(env, secrets map[string]string) *Services {
	if env == nil {
		env = map[string]string{}
	}
	if secrets == nil {
		secrets = map[string]string{}
	}
	return &Services{
		RunID:   uuid.NewString(),
		Env:     env,
		secrets: secrets,
		HTTP: &http.Client{
			Timeout: defaultHelperTimeout,
		},
	}
}

// Secret resolves a named secret
func (s *Services) Secret(name string) (string, bool) {
	value, ok := s.secrets[name]
	return value, ok
}

// Debug appends a message to the run's debug buffer
func (s *Services) Debug(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debug = append(s.debug, msg)
}

// DebugMessages returns a copy of the run's debug buffer
func (s *Services) DebugMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]string, len(s.debug))
	copy(res, s.debug)
	return res
}

func (s *Services) envValues() map[string]any {
	res := make(map[string]any, len(s.Env))
	for k, v := range s.Env {
		res[k] = v
	}
	return res
}
