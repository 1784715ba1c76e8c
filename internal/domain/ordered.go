// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// OrderedTrackerMap preserves the declared order of the `tracker:` section
// so substring resolution is deterministically first-match-wins even when
// profiles overlap.
type OrderedTrackerMap struct {
	Keys     []string
	Profiles map[string]TrackerProfile
}

func (m *OrderedTrackerMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	m.Profiles = make(map[string]TrackerProfile, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var profile TrackerProfile
		if err := node.Content[i+1].Decode(&profile); err != nil {
			return err
		}
		profile.URLSubstring = key
		m.Keys = append(m.Keys, key)
		m.Profiles[key] = profile
	}
	return nil
}

func (m OrderedTrackerMap) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range m.Keys {
		p := m.Profiles[k]
		var valueNode yaml.Node
		if err := valueNode.Encode(p); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &valueNode)
	}
	return node, nil
}

// Resolve returns the first profile whose URLSubstring appears in any of the
// given tracker URLs, in declared order. ok is false when no profile
// matches, signaling the caller to synthesize and persist a default.
func (m *OrderedTrackerMap) Resolve(containsAny func(substr string) bool) (TrackerProfile, bool) {
	if m == nil {
		return TrackerProfile{}, false
	}
	for _, key := range m.Keys {
		if containsAny(key) {
			return m.Profiles[key], true
		}
	}
	return TrackerProfile{}, false
}

// Put adds or replaces a profile, appending to Keys only if new — used when
// persisting a synthesized default profile back into configuration so that
// subsequent runs are stable.
func (m *OrderedTrackerMap) Put(key string, profile TrackerProfile) {
	if m.Profiles == nil {
		m.Profiles = make(map[string]TrackerProfile)
	}
	if _, exists := m.Profiles[key]; !exists {
		m.Keys = append(m.Keys, key)
	}
	profile.URLSubstring = key
	m.Profiles[key] = profile
}

// OrderedShareLimitMap preserves `share_limits:` declaration order; groups
// without an explicit priority get their 1-based declaration position.
type OrderedShareLimitMap struct {
	Names  []string
	Groups map[string]ShareLimitGroup
}

func (m *OrderedShareLimitMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	m.Groups = make(map[string]ShareLimitGroup, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		// Unset limits mean "disabled", not a literal zero; minimums default
		// to 0, which makes their predicates always satisfied.
		g := ShareLimitGroup{
			MaxRatio:         -1,
			MaxSeedingTime:   -1,
			MaxLastActive:    -1,
			LimitUploadSpeed: -1,
		}
		if err := node.Content[i+1].Decode(&g); err != nil {
			return err
		}
		g.Name = name
		if g.Priority == 0 {
			g.Priority = len(m.Names) + 1
		}
		if g.LimitUploadSpeed <= 0 {
			g.LimitUploadSpeed = -1
		}
		m.Names = append(m.Names, name)
		m.Groups[name] = g
	}
	return nil
}

func (m OrderedShareLimitMap) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, n := range m.Names {
		g := m.Groups[n]
		var valueNode yaml.Node
		if err := valueNode.Encode(g); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: n}, &valueNode)
	}
	return node, nil
}

// InPriorityOrder returns groups sorted by ascending Priority, groups with
// equal priority keeping their declared order. Share-limit assignment walks
// this order and the first match wins.
func (m *OrderedShareLimitMap) InPriorityOrder() []ShareLimitGroup {
	if m == nil {
		return nil
	}
	groups := make([]ShareLimitGroup, 0, len(m.Names))
	for _, n := range m.Names {
		groups = append(groups, m.Groups[n])
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Priority < groups[j].Priority
	})
	return groups
}
