// Package scoring implements the pure score computation for token scans:
// base values, expected points, and group-completion bonuses.
package scoring

import (
	"math"
	"sort"

	"scavenger-game-server/internal/model"
)

// MinGroupSize is the smallest group that can pay a completion bonus.
// Single-member groups are completable but never pay.
const MinGroupSize = 2

// Schedule holds the numeric scoring tables. The exact values are
// deployment configuration; tests pin their own schedule.
type Schedule struct {
	RatingTable     map[int]int64
	TypeMultipliers map[model.MemoryType]float64
}

// NewSchedule builds a Schedule from the raw config maps.
func NewSchedule(ratingTable map[int]int64, typeMultipliers map[string]float64) *Schedule {
	s := &Schedule{
		RatingTable:     make(map[int]int64, len(ratingTable)),
		TypeMultipliers: make(map[model.MemoryType]float64, len(typeMultipliers)),
	}
	for rating, value := range ratingTable {
		s.RatingTable[rating] = value
	}
	for memType, mult := range typeMultipliers {
		s.TypeMultipliers[model.MemoryType(memType)] = mult
	}
	return s
}

// BaseValue computes a token's base point value:
// ratingTable[rating] * typeMultiplier[memoryType], floored to an integer.
// Unknown ratings or types contribute zero.
func (s *Schedule) BaseValue(token model.Token) int64 {
	rated, ok := s.RatingTable[token.ValueRating]
	if !ok {
		return 0
	}
	mult, ok := s.TypeMultipliers[token.MemoryType]
	if !ok {
		return 0
	}
	return int64(math.Floor(float64(rated) * mult))
}

// ExpectedPoints computes the points an accepted scan earns. Detective
// scans never score; this is a firm rule, not a schedule entry.
func (s *Schedule) ExpectedPoints(token model.Token, mode model.ScanMode) int64 {
	if mode == model.ModeDetective {
		return 0
	}
	return s.BaseValue(token)
}

// CompletedGroups returns the ids of all groups fully covered by the
// scanned token set. Only groups with at least MinGroupSize members
// qualify. The caller supplies only accepted blackmarket scans; a
// detective-exposed token does not advance group completion.
func CompletedGroups(groups []model.Group, scannedTokenIDs map[string]bool) []string {
	var completed []string
	for _, g := range groups {
		if len(g.TokenIDs) < MinGroupSize {
			continue
		}
		all := true
		for _, id := range g.TokenIDs {
			if !scannedTokenIDs[id] {
				all = false
				break
			}
		}
		if all {
			completed = append(completed, g.ID)
		}
	}
	sort.Strings(completed)
	return completed
}

// GroupBonus computes the completion bonus for a group:
// (multiplier - 1) * sum of member base values. The multiplier expresses
// the total payout as multiplier-times-base, so only the incremental
// amount is paid on top; a multiplier of 1 or less pays nothing.
func (s *Schedule) GroupBonus(members []model.Token, multiplier int) int64 {
	if multiplier <= 1 || len(members) < MinGroupSize {
		return 0
	}
	var sum int64
	for _, t := range members {
		sum += s.BaseValue(t)
	}
	return int64(multiplier-1) * sum
}
