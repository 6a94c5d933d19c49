// Copyright 2026 DoorCache Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package keys defines cache key names and which keys each origin mutation
// makes stale.
//
// Keys follow <scope>_<id>_<facet>, e.g. controller_425036451_cards_list.
package keys

import "fmt"

// GlobalCards is the aggregated card list across every controller.
const GlobalCards = "global_cards_aggregated"

// Controllers is the list of configured controllers.
const Controllers = "controllers_list"

func ControllerCards(controller uint32) string {
	return fmt.Sprintf("controller_%d_cards_list", controller)
}

func ControllerCard(controller, card uint32) string {
	return fmt.Sprintf("controller_%d_card_%d", controller, card)
}

// ControllerStatus holds live door status; it belongs to the volatile class.
func ControllerStatus(controller uint32) string {
	return fmt.Sprintf("controller_%d_status", controller)
}

func ControllerDoors(controller uint32) string {
	return fmt.Sprintf("controller_%d_doors", controller)
}

func ControllerInfo(controller uint32) string {
	return fmt.Sprintf("controller_%d_info", controller)
}

func ControllerEvents(controller uint32) string {
	return fmt.Sprintf("controller_%d_events", controller)
}

// ControllerPattern matches every key scoped to one controller.
func ControllerPattern(controller uint32) string {
	return fmt.Sprintf("controller_%d_*", controller)
}

// CardPattern matches one card's detail key on every controller.
func CardPattern(card uint32) string {
	return fmt.Sprintf("controller_*_card_%d", card)
}

const (
	allCardsPattern     = "controller_*_card_*"
	allCardListsPattern = "controller_*_cards_list"
)

// Op is a kind of origin mutation.
type Op int

const (
	OpAddCard Op = iota + 1
	OpUpdateCard
	OpDeleteCard
	OpDeleteGlobalCard
	OpPurgeAbandonedCards
	OpSetDoorDelay
	OpSetDoorState
	OpSwipe
	OpConfigChange
)

var opNames = map[Op]string{
	OpAddCard:             "add_card",
	OpUpdateCard:          "update_card",
	OpDeleteCard:          "delete_card",
	OpDeleteGlobalCard:    "delete_global_card",
	OpPurgeAbandonedCards: "purge_abandoned_cards",
	OpSetDoorDelay:        "set_door_delay",
	OpSetDoorState:        "set_door_state",
	OpSwipe:               "swipe",
	OpConfigChange:        "config_change",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ParseOp is the inverse of Op.String.
func ParseOp(s string) (Op, error) {
	for op, name := range opNames {
		if name == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown mutation %q", s)
}

// Mutation describes one change made at the origin.
type Mutation struct {
	Op         Op
	Controller uint32
	Card       uint32
}

// Target is a single exact key or a glob pattern to invalidate.
type Target struct {
	Key     string
	Pattern string
}

// IsPattern reports whether t is a glob target.
func (t Target) IsPattern() bool {
	return t.Pattern != ""
}

func (t Target) String() string {
	if t.IsPattern() {
		return t.Pattern
	}
	return t.Key
}

func key(k string) Target     { return Target{Key: k} }
func pattern(p string) Target { return Target{Pattern: p} }

// Plan is the ordered invalidation for one mutation: most granular target
// first, most aggregate last. ClearAll replaces the targets entirely.
type Plan struct {
	Targets  []Target
	ClearAll bool
}

// Affected returns the invalidation plan for m.
func Affected(m Mutation) Plan {
	switch m.Op {
	case OpAddCard, OpUpdateCard, OpDeleteCard:
		return Plan{Targets: []Target{
			key(ControllerCard(m.Controller, m.Card)),
			key(ControllerCards(m.Controller)),
			key(GlobalCards),
		}}
	case OpDeleteGlobalCard:
		return Plan{Targets: []Target{
			pattern(CardPattern(m.Card)),
			pattern(allCardListsPattern),
			key(GlobalCards),
		}}
	case OpPurgeAbandonedCards:
		return Plan{Targets: []Target{
			pattern(allCardsPattern),
			pattern(allCardListsPattern),
			key(GlobalCards),
		}}
	case OpSetDoorDelay, OpSetDoorState:
		return Plan{Targets: []Target{
			key(ControllerStatus(m.Controller)),
			key(ControllerDoors(m.Controller)),
		}}
	case OpSwipe:
		return Plan{Targets: []Target{
			key(ControllerStatus(m.Controller)),
			key(ControllerEvents(m.Controller)),
		}}
	case OpConfigChange:
		return Plan{ClearAll: true}
	default:
		return Plan{}
	}
}
