// Package catalog provides the static, read-only token catalog.
// The catalog is loaded once at startup from the generated tokens.json;
// a load failure is fatal and the process must not accept connections.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"scavenger-game-server/internal/model"
)

// rawToken is one entry of the generated tokens.json file.
type rawToken struct {
	Image           *string `json:"image"`
	Audio           *string `json:"audio"`
	Video           *string `json:"video"`
	ProcessingImage *string `json:"processingImage"`
	RFID            string  `json:"SF_RFID"`
	ValueRating     int     `json:"SF_ValueRating"`
	MemoryType      string  `json:"SF_MemoryType"`
	Group           string  `json:"SF_Group"`
}

// groupPattern extracts the multiplier suffix from a group name,
// e.g. "Server Logs (x2)" -> name "Server Logs", multiplier 2.
var groupPattern = regexp.MustCompile(`^(.*?)\s*\(x(\d+)\)\s*$`)

// Catalog is an immutable lookup of token metadata. All maps are built
// during Load and never mutated afterwards, so reads need no locking.
type Catalog struct {
	tokens  map[string]model.Token
	groups  map[string][]string // groupID -> member token ids
	mults   map[string]int      // groupID -> multiplier
	hasClip map[string]bool     // tokens carrying a video asset
}

// Load reads and validates the token catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("tokens", c.Size()).
		Int("groups", len(c.groups)).
		Str("path", path).
		Msg("Token catalog loaded")

	return c, nil
}

// Parse builds a catalog from raw tokens.json bytes.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]rawToken
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse token catalog: %w", err)
	}

	c := &Catalog{
		tokens:  make(map[string]model.Token, len(raw)),
		groups:  make(map[string][]string),
		mults:   make(map[string]int),
		hasClip: make(map[string]bool),
	}

	for id, rt := range raw {
		if id == "" {
			return nil, fmt.Errorf("token catalog contains an entry with an empty id")
		}
		if rt.ValueRating < 1 || rt.ValueRating > 5 {
			return nil, fmt.Errorf("token %q has invalid value rating %d", id, rt.ValueRating)
		}

		memType := model.MemoryType(strings.ToLower(strings.TrimSpace(rt.MemoryType)))
		if !memType.Valid() {
			return nil, fmt.Errorf("token %q has invalid memory type %q", id, rt.MemoryType)
		}

		groupID, mult := parseGroup(rt.Group)

		token := model.Token{
			ID:              id,
			ValueRating:     rt.ValueRating,
			MemoryType:      memType,
			GroupID:         groupID,
			GroupMultiplier: mult,
		}
		c.tokens[id] = token

		if groupID != "" {
			c.groups[groupID] = append(c.groups[groupID], id)
			// The highest multiplier seen wins when members disagree;
			// the generator emits a consistent value on every member.
			if mult > c.mults[groupID] {
				c.mults[groupID] = mult
			}
		}

		if rt.Video != nil && *rt.Video != "" {
			c.hasClip[id] = true
		}
	}

	for gid := range c.groups {
		sort.Strings(c.groups[gid])
	}

	return c, nil
}

// parseGroup splits a raw group field into id and multiplier.
// An absent multiplier suffix means 1 (completable, zero bonus).
func parseGroup(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}
	if m := groupPattern.FindStringSubmatch(raw); m != nil {
		mult, err := strconv.Atoi(m[2])
		if err != nil || mult < 1 {
			mult = 1
		}
		return strings.TrimSpace(m[1]), mult
	}
	return raw, 1
}

// Get returns the token with the given id.
func (c *Catalog) Get(tokenID string) (model.Token, bool) {
	t, ok := c.tokens[tokenID]
	return t, ok
}

// MembersOf returns the tokens belonging to a group, sorted by id.
// Returns nil for an unknown group.
func (c *Catalog) MembersOf(groupID string) []model.Token {
	ids, ok := c.groups[groupID]
	if !ok {
		return nil
	}
	members := make([]model.Token, 0, len(ids))
	for _, id := range ids {
		members = append(members, c.tokens[id])
	}
	return members
}

// Groups returns all groups derived from the catalog.
func (c *Catalog) Groups() []model.Group {
	groups := make([]model.Group, 0, len(c.groups))
	for gid, ids := range c.groups {
		groups = append(groups, model.Group{
			ID:         gid,
			Multiplier: c.mults[gid],
			TokenIDs:   append([]string(nil), ids...),
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// GroupMultiplier returns the multiplier for a group, 0 if unknown.
func (c *Catalog) GroupMultiplier(groupID string) int {
	return c.mults[groupID]
}

// HasVideo reports whether the token carries a video asset. Accepted
// scans of video-bearing tokens are forwarded to the video orchestrator.
func (c *Catalog) HasVideo(tokenID string) bool {
	return c.hasClip[tokenID]
}

// Size returns the number of tokens in the catalog.
func (c *Catalog) Size() int {
	return len(c.tokens)
}
