// Package agents holds the static roster of model-backed personas and the
// prompt assembly for each request. Agents are built once at startup from
// config and immutable afterward; only the external override files
// (temperatures, prompts) are re-read between requests.
package agents

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/gwyntel/splintertree/internal/config"
	"github.com/gwyntel/splintertree/internal/providers"
)

// Agent is one configured persona bound to a provider and model.
type Agent struct {
	Name           string
	Nickname       string
	TriggerWords   []string
	Model          string
	PromptKey      string
	SupportsVision bool
	IsDefault      bool

	Provider  providers.Provider
	overrides *config.Overrides
}

// DisplayName returns the nickname when set, else the agent name.
func (a *Agent) DisplayName() string {
	if a.Nickname != "" {
		return a.Nickname
	}
	return a.Name
}

// TriggerMatch reports whether text matches any of the agent's trigger
// words, case-insensitively, as a substring. An empty trigger set never
// matches; such agents are only reachable via the default/random path or
// reply-chain routing.
func (a *Agent) TriggerMatch(text string) bool {
	if len(a.TriggerWords) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range a.TriggerWords {
		if w == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// Registry is the process-wide agent roster.
type Registry struct {
	agents []*Agent
	byName map[string]*Agent
	def    *Agent
}

// NewRegistry builds the roster from config. provs maps provider names
// ("openrouter", "openpipe") to clients.
func NewRegistry(specs []config.AgentSpec, provs map[string]providers.Provider, overrides *config.Overrides) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Agent)}

	for _, spec := range specs {
		p, ok := provs[strings.ToLower(spec.Provider)]
		if !ok {
			return nil, fmt.Errorf("agent %s: unknown provider %q", spec.Name, spec.Provider)
		}

		a := &Agent{
			Name:           spec.Name,
			Nickname:       spec.Nickname,
			TriggerWords:   spec.TriggerWords,
			Model:          spec.Model,
			PromptKey:      spec.PromptKey,
			SupportsVision: spec.SupportsVision,
			IsDefault:      spec.Default,
			Provider:       p,
			overrides:      overrides,
		}
		r.agents = append(r.agents, a)

		r.byName[strings.ToLower(a.Name)] = a
		if a.Nickname != "" {
			r.byName[strings.ToLower(a.Nickname)] = a
		}
		if a.IsDefault {
			if r.def != nil {
				return nil, fmt.Errorf("agents %s and %s both marked default", r.def.Name, a.Name)
			}
			r.def = a
		}
	}

	if len(r.agents) == 0 {
		return nil, fmt.Errorf("no agents configured")
	}
	return r, nil
}

// All returns the roster in configuration order.
func (r *Registry) All() []*Agent { return r.agents }

// ByName looks an agent up by name or nickname, case-insensitively.
func (r *Registry) ByName(name string) (*Agent, bool) {
	a, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// Default returns the configured default agent, or nil.
func (r *Registry) Default() *Agent { return r.def }

// DefaultOrRandom returns the default agent when one is configured, else a
// uniformly random agent. Used for mentions, the keyword trigger, and
// attachment-only messages.
func (r *Registry) DefaultOrRandom() *Agent {
	if r.def != nil {
		return r.def
	}
	return r.agents[rand.IntN(len(r.agents))]
}

// Matching returns every agent whose trigger words match text. Each match
// generates its own independent reply.
func (r *Registry) Matching(text string) []*Agent {
	var matched []*Agent
	for _, a := range r.agents {
		if a.TriggerMatch(text) {
			matched = append(matched, a)
		}
	}
	return matched
}
