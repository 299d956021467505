// Package probe classifies a managed server as inactive, starting or running.
//
// Every call re-queries the init system and, when the unit is active, the
// remote console. Nothing is cached: a result is a snapshot valid only at the
// call site.
package probe

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
	"github.com/MrSnakeDoc/mcbot/internal/rcon"
)

// ErrMalformedList means the console answered "list" with text that carries
// no player counts.
var ErrMalformedList = errors.New("probe: malformed list output")

// InitSystem reports whether a unit is active.
type InitSystem interface {
	IsActive(ctx context.Context, unit string) (bool, error)
}

// Lister runs the console "list" command.
type Lister interface {
	List(ctx context.Context, ep domain.ConsoleEndpoint) (string, error)
}

type Probe struct {
	sys     InitSystem
	console Lister
}

func New(sys InitSystem, console Lister) *Probe {
	return &Probe{sys: sys, console: console}
}

// Probe returns the current status of srv.
func (p *Probe) Probe(ctx context.Context, srv domain.Server) (domain.ServiceStatus, error) {
	active, err := p.sys.IsActive(ctx, srv.Unit)
	if err != nil {
		return domain.ServiceStatus{}, fmt.Errorf("query %s: %w", srv.Unit, err)
	}
	if !active {
		return domain.InactiveStatus(), nil
	}

	out, err := p.console.List(ctx, srv.Console)
	if errors.Is(err, rcon.ErrConnectionFailed) {
		return domain.StartingStatus(), nil
	}
	if err != nil {
		return domain.ServiceStatus{}, fmt.Errorf("list %s: %w", srv.Identity, err)
	}
	return ParseList(out)
}

var countsRe = regexp.MustCompile(`\d+`)

// ParseList extracts player counts and names from "list" output such as
// "There are 2 of a max of 20 players online: Alice, Bob". The first two
// integers are current and max; names follow the first ": ".
func ParseList(out string) (domain.ServiceStatus, error) {
	text := strings.TrimSpace(ansi.Strip(out))

	head, names, _ := strings.Cut(text, ":")
	counts := countsRe.FindAllString(head, 2)
	if len(counts) < 2 {
		return domain.ServiceStatus{}, fmt.Errorf("%w: %q", ErrMalformedList, text)
	}
	current, err := strconv.Atoi(counts[0])
	if err != nil {
		return domain.ServiceStatus{}, fmt.Errorf("%w: %q", ErrMalformedList, text)
	}
	max, err := strconv.Atoi(counts[1])
	if err != nil {
		return domain.ServiceStatus{}, fmt.Errorf("%w: %q", ErrMalformedList, text)
	}

	var players []string
	for _, name := range strings.Split(names, ",") {
		if name = strings.TrimSpace(name); name != "" {
			players = append(players, name)
		}
	}
	return domain.RunningStatus(current, max, players), nil
}
