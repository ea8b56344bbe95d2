// Package acl implements the authorization provider contract of spec §6:
// per-role publish/subscribe topic-filter allow lists with %c (client id)
// and %u (username) substitution, plus a default permission set.
package acl

import (
	"strings"

	"github.com/golang-io/vibemq/topic"
)

// Permission is the default allow/deny posture when no role or rule
// matches.
type Permission byte

const (
	Deny Permission = iota
	Allow
)

// Role is one named set of publish/subscribe filter allow lists. Filters
// may contain %c and %u placeholders, substituted with the requesting
// client's id and username before matching.
type Role struct {
	Name      string
	Publish   []string
	Subscribe []string
}

// Provider is the contract the connection state machine calls on PUBLISH
// and SUBSCRIBE.
type Provider interface {
	CheckPublish(clientID, username, topicName string, qos byte, retain bool) bool
	CheckSubscribe(clientID, username, filter string, qos byte) bool
	OnDisconnect(clientID string)
}

// RoleBased is the default Provider: clients are assigned a role (by the
// auth layer) and checked against that role's filter lists.
type RoleBased struct {
	enabled     bool
	defaultPerm Permission
	roles       map[string]Role
	roleOf      func(username string) (string, bool)
}

func NewRoleBased(enabled bool, defaultPerm Permission, roles []Role, roleOf func(username string) (string, bool)) *RoleBased {
	m := make(map[string]Role, len(roles))
	for _, r := range roles {
		m[r.Name] = r
	}
	return &RoleBased{enabled: enabled, defaultPerm: defaultPerm, roles: m, roleOf: roleOf}
}

func substitute(filter, clientID, username string) string {
	r := strings.NewReplacer("%c", clientID, "%u", username)
	return r.Replace(filter)
}

func (a *RoleBased) check(clientID, username, topicName string, list []string) (matched bool) {
	for _, raw := range list {
		f := substitute(raw, clientID, username)
		if topic.Matches(f, topicName) {
			return true
		}
	}
	return false
}

func (a *RoleBased) roleFilters(username string, publish bool) []string {
	roleName, ok := a.roleOf(username)
	if !ok {
		return nil
	}
	role, ok := a.roles[roleName]
	if !ok {
		return nil
	}
	if publish {
		return role.Publish
	}
	return role.Subscribe
}

func (a *RoleBased) CheckPublish(clientID, username, topicName string, qos byte, retain bool) bool {
	if !a.enabled {
		return true
	}
	if a.check(clientID, username, topicName, a.roleFilters(username, true)) {
		return true
	}
	return a.defaultPerm == Allow
}

func (a *RoleBased) CheckSubscribe(clientID, username, filter string, qos byte) bool {
	if !a.enabled {
		return true
	}
	_, actual, _, err := topic.SplitShare(filter)
	if err != nil {
		return false
	}
	if a.check(clientID, username, actual, a.roleFilters(username, false)) {
		return true
	}
	return a.defaultPerm == Allow
}

func (a *RoleBased) OnDisconnect(clientID string) {}
