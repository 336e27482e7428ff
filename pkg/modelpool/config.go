// Package modelpool resolves which concrete backend configuration serves one
// call: a primary config, an optional pool of alternates with a selection
// strategy, sticky per-user preferences, and a short-lived compare flow.
package modelpool

import "fmt"

// Strategy names a pool selection policy.
type Strategy string

const (
	StrategyDefault    Strategy = "default"
	StrategyRandom     Strategy = "random"
	StrategyRoundRobin Strategy = "round_robin"
)

// BackendConfig is one concrete model backend.
type BackendConfig struct {
	Name          string `yaml:"name" json:"name"`
	APIURL        string `yaml:"api_url" json:"api_url"`
	APIKey        string `yaml:"api_key" json:"api_key"`
	ModelName     string `yaml:"model_name" json:"model_name"`
	MaxTokens     int    `yaml:"max_tokens" json:"max_tokens"`
	QueueInterval int    `yaml:"queue_interval_seconds" json:"queue_interval_seconds"`
	Pool          *Pool  `yaml:"pool,omitempty" json:"pool,omitempty"`
}

// Pool is a named, ordered collection of alternate backends.
type Pool struct {
	Enabled  bool            `yaml:"enabled" json:"enabled"`
	Strategy Strategy        `yaml:"strategy" json:"strategy"`
	Members  []BackendConfig `yaml:"members" json:"members"`
}

// member returns the pool member named name.
func (p *Pool) member(name string) (BackendConfig, bool) {
	for _, m := range p.Members {
		if m.Name == name {
			return m, true
		}
	}
	return BackendConfig{}, false
}

// Scope identifies the chat context a selection belongs to.
type Scope struct {
	GroupID string
	UserID  string
}

func (s Scope) key() string {
	return fmt.Sprintf("%s:%s", s.GroupID, s.UserID)
}
