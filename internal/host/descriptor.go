// Package host describes the remote machines gpueye polls and loads them
// from SSH config files.
package host

import (
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DefaultPort is the SSH port assumed when a provider doesn't set one.
const DefaultPort = 22

// Descriptor identifies one remote machine and how to reach it.
// Treat it as a value; the engine never mutates descriptors.
type Descriptor struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Hostname  string   `json:"hostname" yaml:"hostname"`
	Port      int      `json:"port" yaml:"port"`
	User      string   `json:"user,omitempty" yaml:"user,omitempty"`
	ProxyJump string   `json:"proxy_jump,omitempty" yaml:"proxy_jump,omitempty"`
	Aliases   []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// New builds a descriptor with a fresh ID and the default port.
func New(name, hostname string) Descriptor {
	return Descriptor{
		ID:       uuid.NewString(),
		Name:     name,
		Hostname: hostname,
		Port:     DefaultPort,
	}
}

// Valid reports whether the descriptor can be scheduled: a non-blank
// hostname and a port in 1-65535.
func (d Descriptor) Valid() bool {
	return strings.TrimSpace(d.Hostname) != "" && d.Port > 0 && d.Port < 65536
}

// DisplayName returns Name, falling back to Hostname.
func (d Descriptor) DisplayName() string {
	if d.Name == "" {
		return d.Hostname
	}
	return d.Name
}

// AllNames joins Name and Aliases, skipping blanks.
func (d Descriptor) AllNames() string {
	names := make([]string, 0, len(d.Aliases)+1)
	for _, n := range append([]string{d.Name}, d.Aliases...) {
		if n != "" {
			names = append(names, n)
		}
	}
	return strings.Join(names, ", ")
}

// ConnectionString renders user@host[:port] plus the relay when present.
func (d Descriptor) ConnectionString() string {
	var b strings.Builder
	if d.User != "" {
		b.WriteString(d.User)
		b.WriteString("@")
	}
	b.WriteString(d.Hostname)
	if d.Port != DefaultPort {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(d.Port))
	}
	if d.ProxyJump != "" {
		b.WriteString(" (via ")
		b.WriteString(d.ProxyJump)
		b.WriteString(")")
	}
	return b.String()
}

// Address returns host:port for dialing.
func (d Descriptor) Address() string {
	return net.JoinHostPort(strings.TrimSpace(d.Hostname), strconv.Itoa(d.Port))
}

// Matches reports whether s names this host by ID, name, hostname or alias.
func (d Descriptor) Matches(s string) bool {
	if s == "" {
		return false
	}
	if s == d.ID || s == d.Name || s == d.Hostname {
		return true
	}
	for _, a := range d.Aliases {
		if a == s {
			return true
		}
	}
	return false
}

// FilterValid returns the descriptors that can be scheduled, keeping order.
func FilterValid(list []Descriptor) []Descriptor {
	out := make([]Descriptor, 0, len(list))
	for _, d := range list {
		if d.Valid() {
			out = append(out, d)
		}
	}
	return out
}
