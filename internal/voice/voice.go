// Package voice loads the catalog of voice personas a user may pick from.
//
// The catalog is read from the configured Source and grouped by tier. Any
// failure, timeout or empty read falls back to a catalog compiled into the
// binary, optionally replaced by an operator-supplied TOML file, so a voice
// is always selectable.
package voice

import (
	"context"
	"sort"
	"strings"

	"github.com/J3rah/talkai-monorepo-sub002/internal/tier"
)

// Configuration is a provider-hosted voice persona.
type Configuration struct {
	ID               string    `json:"id" toml:"id"`
	DisplayName      string    `json:"display_name" toml:"display_name"`
	CharacterName    string    `json:"character_name" toml:"character_name"`
	Description      string    `json:"description" toml:"description"`
	Tier             tier.Tier `json:"tier" toml:"tier"`
	ProviderConfigID string    `json:"provider_config_id" toml:"provider_config_id"`
}

// Group is an ordered set of configurations sharing a tier.
type Group struct {
	Name           string          `json:"name" toml:"name"`
	Tier           tier.Tier       `json:"tier" toml:"tier"`
	Configurations []Configuration `json:"configurations" toml:"voices"`
}

// Source reads voice configurations from persistent storage.
type Source interface {
	ListVoiceConfigurations(ctx context.Context) ([]Configuration, error)
}

// Default returns the first configuration of the first non-empty group.
func Default(groups []Group) (Configuration, bool) {
	for _, g := range groups {
		if len(g.Configurations) > 0 {
			return g.Configurations[0], true
		}
	}
	return Configuration{}, false
}

// Find returns the configuration with the given id.
func Find(groups []Group, id string) (Configuration, bool) {
	for _, g := range groups {
		for _, c := range g.Configurations {
			if c.ID == id {
				return c, true
			}
		}
	}
	return Configuration{}, false
}

// GroupByTier buckets configs into one group per tier the user may access,
// ascending by tier. Configurations keep their source order within a group.
// Groups left empty are dropped.
func GroupByTier(configs []Configuration, user tier.Tier) []Group {
	byTier := make(map[tier.Tier][]Configuration)
	for _, c := range configs {
		if c.ProviderConfigID == "" || !tier.CanAccess(user, c.Tier) {
			continue
		}
		byTier[c.Tier] = append(byTier[c.Tier], c)
	}

	tiers := make([]tier.Tier, 0, len(byTier))
	for t := range byTier {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })

	groups := make([]Group, 0, len(tiers))
	for _, t := range tiers {
		groups = append(groups, Group{Name: groupName(t), Tier: t, Configurations: byTier[t]})
	}
	return groups
}

// filterGroups keeps the groups and entries user may access.
func filterGroups(groups []Group, user tier.Tier) []Group {
	var out []Group
	for _, g := range groups {
		if !tier.CanAccess(user, g.Tier) || len(g.Configurations) == 0 {
			continue
		}
		out = append(out, g)
	}
	return out
}

func groupName(t tier.Tier) string {
	n := t.String()
	return strings.ToUpper(n[:1]) + n[1:] + " voices"
}

func countConfigurations(groups []Group) int {
	n := 0
	for _, g := range groups {
		n += len(g.Configurations)
	}
	return n
}

// FindByProviderConfigID returns the configuration bound to a provider config.
func FindByProviderConfigID(groups []Group, providerConfigID string) (Configuration, bool) {
	for _, g := range groups {
		for _, c := range g.Configurations {
			if c.ProviderConfigID == providerConfigID {
				return c, true
			}
		}
	}
	return Configuration{}, false
}
