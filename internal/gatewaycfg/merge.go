package gatewaycfg

import (
	"encoding/json"
	"fmt"
)

// Settings are the inputs to a render.
type Settings struct {
	Token          string
	Port           int
	WorkspaceDir   string
	Provider       Provider
	APIKey         string
	ManagedBaseURL string
}

// Merge returns a copy of doc with the gateway block replaced and the
// provider profile merged in. doc itself is not modified.
func Merge(doc Document, s Settings) (Document, error) {
	profile, err := ProfileFor(s.Provider, s.APIKey, s.ManagedBaseURL)
	if err != nil {
		return Document{}, err
	}

	out := Document{Rest: cloneRaw(doc.Rest)}

	out.Gateway = &GatewayBlock{
		Mode: "local",
		Port: s.Port,
		Bind: "lan",
		Auth: Auth{Mode: "token", Token: s.Token},
		ControlUI: ControlUI{
			Enabled:           true,
			AllowInsecureAuth: true,
		},
	}

	models := &Models{Mode: "merge"}
	if doc.Models != nil {
		models.Providers = cloneRaw(doc.Models.Providers)
		models.Rest = cloneRaw(doc.Models.Rest)
	}
	if models.Providers == nil {
		models.Providers = map[string]json.RawMessage{}
	}
	for name, pc := range profile.Providers {
		b, err := json.Marshal(pc)
		if err != nil {
			return Document{}, fmt.Errorf("encode provider %s: %w", name, err)
		}
		models.Providers[name] = b
	}
	out.Models = models

	agents := &Agents{}
	defaults := &AgentDefaults{}
	if doc.Agents != nil {
		agents.Rest = cloneRaw(doc.Agents.Rest)
		if d := doc.Agents.Defaults; d != nil {
			defaults.Model = cloneRaw(d.Model)
			defaults.Models = cloneRaw(d.Models)
			defaults.Rest = cloneRaw(d.Rest)
		}
	}
	defaults.Workspace = s.WorkspaceDir
	if defaults.Models == nil {
		defaults.Models = map[string]json.RawMessage{}
	}
	for ref, alias := range profile.Aliases {
		b, _ := json.Marshal(map[string]string{"alias": alias})
		defaults.Models[ref] = b
	}
	if defaults.Model == nil {
		defaults.Model = map[string]json.RawMessage{}
	}
	primary, _ := json.Marshal(profile.Primary)
	defaults.Model["primary"] = primary
	agents.Defaults = defaults
	out.Agents = agents

	return out, nil
}

// Render parses existing (which may be empty), merges, and returns indented
// JSON. Unparseable input is reported and treated as empty.
func Render(existing []byte, s Settings) ([]byte, error) {
	var doc Document
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return nil, fmt.Errorf("parse gateway config: %w", err)
		}
	}
	merged, err := Merge(doc, s)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(merged, "", "  ")
}

func cloneRaw(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
