package domain

import (
	"fmt"
	"strings"
)

// ServiceIdentity names one managed server instance. It is derived 1:1 from
// a configured chat and never changes for the lifetime of the process.
type ServiceIdentity string

func (id ServiceIdentity) String() string { return string(id) }

// DefaultUnitTemplate is the systemd unit naming scheme for managed servers.
const DefaultUnitTemplate = "minecraft-server@{name}.service"

// UnitNamer derives the init-system unit name for an identity.
type UnitNamer struct {
	Template string
}

// Unit renders the template for id. The {name} placeholder is replaced by the
// identity; a template without it is used verbatim with the identity appended
// as an instance name.
func (n UnitNamer) Unit(id ServiceIdentity) string {
	tmpl := n.Template
	if tmpl == "" {
		tmpl = DefaultUnitTemplate
	}
	if strings.Contains(tmpl, "{name}") {
		return strings.ReplaceAll(tmpl, "{name}", string(id))
	}
	return fmt.Sprintf("%s@%s.service", strings.TrimSuffix(tmpl, ".service"), id)
}

// StatusKind discriminates ServiceStatus.
type StatusKind int

const (
	// Inactive means no process is running.
	Inactive StatusKind = iota
	// Starting means the unit is active but the query protocol is not bound yet.
	Starting
	// Running means the server answered a player list query.
	Running
)

func (k StatusKind) String() string {
	switch k {
	case Inactive:
		return "inactive"
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("StatusKind(%d)", int(k))
	}
}

// ServiceStatus is a point-in-time snapshot of a managed server. Only a
// Running status carries player data; it is recomputed on every probe.
type ServiceStatus struct {
	Kind           StatusKind
	CurrentPlayers int
	MaxPlayers     int
	Players        []string
}

// InactiveStatus returns the Inactive variant.
func InactiveStatus() ServiceStatus { return ServiceStatus{Kind: Inactive} }

// StartingStatus returns the Starting variant.
func StartingStatus() ServiceStatus { return ServiceStatus{Kind: Starting} }

// RunningStatus returns the Running variant.
func RunningStatus(current, max int, players []string) ServiceStatus {
	return ServiceStatus{
		Kind:           Running,
		CurrentPlayers: current,
		MaxPlayers:     max,
		Players:        players,
	}
}

func (s ServiceStatus) String() string {
	if s.Kind != Running {
		return s.Kind.String()
	}
	return fmt.Sprintf("running (%d/%d: %s)", s.CurrentPlayers, s.MaxPlayers, strings.Join(s.Players, ", "))
}
