// Package locale renders chat-facing strings from embedded YAML catalogs.
package locale

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fallback is used for keys the selected catalog does not define.
const Fallback = "en-UK"

// Message keys.
const (
	StartIssued           = "start.issued"
	StartReady            = "start.ready"
	StartUnknown          = "start.unknown"
	StartAlreadyStarting  = "start.already_starting"
	StartAlreadyRunning   = "start.already_running"
	StopIssued            = "stop.issued"
	StopNotRunning        = "stop.not_running"
	StopWhileStarting     = "stop.while_starting"
	StatusNotRunning      = "status.not_running"
	StatusStarting        = "status.starting"
	StatusRunning         = "status.running"
	BridgeActivated       = "bridge.activated"
	BridgeAlreadyActive   = "bridge.already_active"
	BridgeNotRunning      = "bridge.not_running"
	BridgeAfterStart      = "bridge.after_start"
	BridgeAlreadyPrepared = "bridge.already_prepared"
	BridgePendingDropped  = "bridge.pending_dropped"
	BridgeDeactivated     = "bridge.deactivated"
	BridgeWasInactive     = "bridge.was_inactive"
	BridgeInlineButton    = "bridge.inline_button"
	Licence               = "licence"
	GenericFailure        = "error.generic"
)

//go:embed catalogs/*.yaml
var catalogFS embed.FS

// Catalog looks up strings for one locale with fallback to en-UK. A key
// missing from both renders as the key itself.
type Catalog struct {
	name     string
	messages map[string]string
	fallback map[string]string
}

func load(name string) (map[string]string, error) {
	data, err := catalogFS.ReadFile(path.Join("catalogs", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("locale %q: %w", name, err)
	}
	var messages map[string]string
	if err := yaml.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("locale %q: %w", name, err)
	}
	return messages, nil
}

// New loads the catalog for name.
func New(name string) (*Catalog, error) {
	fallback, err := load(Fallback)
	if err != nil {
		return nil, err
	}
	if name == "" || name == Fallback {
		return &Catalog{name: Fallback, messages: fallback, fallback: fallback}, nil
	}
	messages, err := load(name)
	if err != nil {
		return nil, err
	}
	return &Catalog{name: name, messages: messages, fallback: fallback}, nil
}

// Available lists the embedded locale names.
func Available() []string {
	entries, _ := catalogFS.ReadDir("catalogs")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) Name() string { return c.name }

// Text renders key, replacing {placeholder} with args[placeholder].
func (c *Catalog) Text(key string, args map[string]string) string {
	msg, ok := c.messages[key]
	if !ok {
		if msg, ok = c.fallback[key]; !ok {
			return key
		}
	}
	for k, v := range args {
		msg = strings.ReplaceAll(msg, "{"+k+"}", v)
	}
	return msg
}
