package gateway

import (
	"slices"

	"github.com/jellynash/bingo/internal/auth"
)

// Namespace is the websocket path a client connects on.
type Namespace string

const (
	NamespacePlayer  Namespace = "/player"
	NamespaceScreen  Namespace = "/screen"
	NamespaceConsole Namespace = "/console"
)

// namespaceRoles lists the token roles each namespace admits.
var namespaceRoles = map[Namespace][]auth.Role{
	NamespacePlayer:  {auth.RolePlayer},
	NamespaceScreen:  {auth.RoleScreen},
	NamespaceConsole: {auth.RoleHost},
}

// Namespaces returns every namespace the gateway serves.
func Namespaces() []Namespace {
	return []Namespace{NamespacePlayer, NamespaceScreen, NamespaceConsole}
}

func (ns Namespace) admits(role auth.Role) bool {
	return slices.Contains(namespaceRoles[ns], role)
}
