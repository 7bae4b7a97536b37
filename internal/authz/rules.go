package authz

import (
	"os"
	"strings"

	"github.com/goatkit/beamhost/internal/microdata"
)

// Permission is the outcome of a matched rule.
type Permission int

const (
	PermissionDeny Permission = iota
	PermissionAllow
)

// Rule is one AuthorizationRule microdata item.
type Rule struct {
	Username string
	Path     string
	Selector string // empty means "no selector constraint"
	Methods  []string
	Action   Permission
}

// User is one User microdata item.
type User struct {
	Username string
	Roles    []string
}

// RuleSet is the parsed content of an authorization file: the users it
// knows about and the rules to evaluate against them.
type RuleSet struct {
	Users []User
	Rules []Rule
}

// LoadRuleSet reads and parses an authorization file, accepting both plain
// paths and file:// URLs.
func LoadRuleSet(authFile string) (*RuleSet, error) {
	path := authFile
	if strings.HasPrefix(path, "file://") {
		path = path[len("file://"):]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	items, err := microdata.New().Extract(data)
	if err != nil {
		return nil, err
	}

	rs := &RuleSet{}
	for _, it := range items {
		if it.ItemType() == "http://rustybeam.net/User" {
			username, _ := it.GetProperty("username")
			if username == "" {
				continue
			}
			rs.Users = append(rs.Users, User{Username: username, Roles: it.GetPropertyValues("role")})
		}
	}
	for _, it := range items {
		if it.ItemType() != "http://rustybeam.net/AuthorizationRule" {
			continue
		}
		username, ok := it.GetProperty("username")
		if !ok || username == "" {
			username, _ = it.GetProperty("role")
		}
		path, _ := it.GetProperty("path")
		selector, _ := it.GetProperty("selector")
		actionStr, ok := it.GetProperty("action")
		if !ok {
			actionStr = "deny"
		}
		action := PermissionDeny
		if strings.EqualFold(actionStr, "allow") {
			action = PermissionAllow
		}
		methods := it.GetPropertyValues("method")

		if username == "" || path == "" || len(methods) == 0 {
			continue
		}
		rs.Rules = append(rs.Rules, Rule{
			Username: username,
			Path:     path,
			Selector: selector,
			Methods:  methods,
			Action:   action,
		})
	}
	return rs, nil
}

func (rs *RuleSet) rolesFor(username string) []string {
	for _, u := range rs.Users {
		if u.Username == username {
			return u.Roles
		}
	}
	return nil
}

// pathMatches implements the /* and :param wildcard grammar the original
// authorization plugin used.
func pathMatches(path, pattern string) bool {
	if path == pattern {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := pattern[:len(pattern)-2]
		if prefix == "" && path == "/" {
			return true
		}
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	if strings.Contains(pattern, ":") {
		patternParts := strings.Split(pattern, "/")
		pathParts := strings.Split(path, "/")

		if len(patternParts) != len(pathParts) {
			if strings.HasSuffix(pattern, "/*") && len(patternParts)-1 <= len(pathParts) {
				for i := 0; i < len(patternParts)-1; i++ {
					if !strings.HasPrefix(patternParts[i], ":") && patternParts[i] != pathParts[i] {
						return false
					}
				}
				return true
			}
			return false
		}
		for i := range patternParts {
			if !strings.HasPrefix(patternParts[i], ":") && patternParts[i] != pathParts[i] {
				return false
			}
		}
		return true
	}
	return false
}

// priorityFor ranks a rule's username field against the requesting user,
// matching the original's exact-user > :username > role > wildcard order.
// ok is false when the rule simply doesn't apply to this user.
func priorityFor(ruleUsername, username string, roles []string) (priority int, ok bool) {
	switch {
	case ruleUsername == username:
		return 3, true
	case ruleUsername == ":username":
		return 2, true
	case containsString(roles, ruleUsername):
		return 1, true
	case ruleUsername == "*":
		return 0, true
	default:
		return 0, false
	}
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
