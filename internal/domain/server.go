package domain

import (
	"net"
	"sort"
	"strconv"
)

// ConsoleEndpoint locates a server's remote console.
type ConsoleEndpoint struct {
	Host     string
	Port     int
	Password string
}

// Addr returns host:port.
func (e ConsoleEndpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Server is the static description of one managed instance.
type Server struct {
	Identity ServiceIdentity
	Unit     string
	Console  ConsoleEndpoint
	// LogFile, when set, is followed instead of the unit's journal.
	LogFile string
}

// Directory is the immutable identity -> server table built from config.
type Directory map[ServiceIdentity]Server

// Lookup returns the server for id.
func (d Directory) Lookup(id ServiceIdentity) (Server, bool) {
	s, ok := d[id]
	return s, ok
}

// Identities returns all identities in a stable order.
func (d Directory) Identities() []ServiceIdentity {
	ids := make([]ServiceIdentity, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
