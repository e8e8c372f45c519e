// Package gatewaycfg models the gateway's JSON configuration file, the
// provider catalog rendered into it, and the secrets env file the supervised
// gateway reads at launch. Merging is pure and independent of file I/O.
package gatewaycfg

import (
	"encoding/json"
	"fmt"
)

// Document is the gateway config file. Only the sections this service owns
// are typed; every other key is carried through untouched in Rest.
type Document struct {
	Gateway *GatewayBlock
	Models  *Models
	Agents  *Agents
	Rest    map[string]json.RawMessage
}

// GatewayBlock is owned outright and replaced on every render.
type GatewayBlock struct {
	Mode      string    `json:"mode"`
	Port      int       `json:"port"`
	Bind      string    `json:"bind"`
	Auth      Auth      `json:"auth"`
	ControlUI ControlUI `json:"controlUi"`
}

type Auth struct {
	Mode  string `json:"mode"`
	Token string `json:"token"`
}

type ControlUI struct {
	Enabled           bool `json:"enabled"`
	AllowInsecureAuth bool `json:"allowInsecureAuth"`
}

// Models holds the provider map. Providers not written by this service are
// kept as raw JSON.
type Models struct {
	Mode      string
	Providers map[string]json.RawMessage
	Rest      map[string]json.RawMessage
}

type Agents struct {
	Defaults *AgentDefaults
	Rest     map[string]json.RawMessage
}

// AgentDefaults is merged key by key: model aliases are added to, not
// replaced, and only the primary model selection is overwritten.
type AgentDefaults struct {
	Workspace string
	Model     map[string]json.RawMessage
	Models    map[string]json.RawMessage
	Rest      map[string]json.RawMessage
}

// Token returns the gateway auth token embedded in the document, if any.
func (d Document) Token() string {
	if d.Gateway == nil {
		return ""
	}
	return d.Gateway.Auth.Token
}

func (d *Document) UnmarshalJSON(data []byte) error {
	rest, err := splitObject(data, map[string]any{
		"gateway": &d.Gateway,
		"models":  &d.Models,
		"agents":  &d.Agents,
	})
	if err != nil {
		return err
	}
	d.Rest = rest
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	known := map[string]any{}
	if d.Gateway != nil {
		known["gateway"] = d.Gateway
	}
	if d.Models != nil {
		known["models"] = d.Models
	}
	if d.Agents != nil {
		known["agents"] = d.Agents
	}
	return joinObject(d.Rest, known)
}

func (m *Models) UnmarshalJSON(data []byte) error {
	rest, err := splitObject(data, map[string]any{
		"mode":      &m.Mode,
		"providers": &m.Providers,
	})
	if err != nil {
		return err
	}
	m.Rest = rest
	return nil
}

func (m Models) MarshalJSON() ([]byte, error) {
	known := map[string]any{}
	if m.Mode != "" {
		known["mode"] = m.Mode
	}
	if m.Providers != nil {
		known["providers"] = m.Providers
	}
	return joinObject(m.Rest, known)
}

func (a *Agents) UnmarshalJSON(data []byte) error {
	rest, err := splitObject(data, map[string]any{"defaults": &a.Defaults})
	if err != nil {
		return err
	}
	a.Rest = rest
	return nil
}

func (a Agents) MarshalJSON() ([]byte, error) {
	known := map[string]any{}
	if a.Defaults != nil {
		known["defaults"] = a.Defaults
	}
	return joinObject(a.Rest, known)
}

func (d *AgentDefaults) UnmarshalJSON(data []byte) error {
	rest, err := splitObject(data, map[string]any{
		"workspace": &d.Workspace,
		"model":     &d.Model,
		"models":    &d.Models,
	})
	if err != nil {
		return err
	}
	d.Rest = rest
	return nil
}

func (d AgentDefaults) MarshalJSON() ([]byte, error) {
	known := map[string]any{}
	if d.Workspace != "" {
		known["workspace"] = d.Workspace
	}
	if d.Model != nil {
		known["model"] = d.Model
	}
	if d.Models != nil {
		known["models"] = d.Models
	}
	return joinObject(d.Rest, known)
}

// splitObject decodes a JSON object, unmarshalling each known key into its
// target and returning the remaining keys untouched.
func splitObject(data []byte, known map[string]any) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for key, target := range known {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, target); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		delete(raw, key)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

// joinObject encodes rest plus the known values as one object. Keys come
// out sorted, so output is deterministic.
func joinObject(rest map[string]json.RawMessage, known map[string]any) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(rest)+len(known))
	for k, v := range rest {
		out[k] = v
	}
	for k, v := range known {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = b
	}
	return json.Marshal(out)
}
