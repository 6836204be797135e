// Package subscription implements the world/area subscription index (spec
// C3): which peers receive which worlds' GlobalMessages and which cells'
// LocalMessages. It is owned exclusively by the subscription lane (spec
// §4.5) and carries no internal locking — generalized from
// ws/internal/shared/connection.go's channel-keyed SubscriptionIndex, with
// the teacher's atomic copy-on-write snapshot dropped in favor of plain maps
// since a single-owner goroutine never races a reader against a writer.
package subscription

import (
	"github.com/google/uuid"

	"github.com/worldql/worldql-go/internal/protocol"
	"github.com/worldql/worldql-go/internal/spatial"
)

type worldArea struct {
	world string
	area  spatial.Area
}

// Index tracks, per world and per (world, area) cell, the set of subscribed
// peers, plus the reverse indices needed to remove a peer in time
// proportional to its own subscription count rather than a full scan.
type Index struct {
	worldSubs map[string]map[uuid.UUID]struct{}
	areaSubs  map[worldArea]map[uuid.UUID]struct{}

	peerWorlds map[uuid.UUID]map[string]struct{}
	peerAreas  map[uuid.UUID]map[worldArea]struct{}
}

// New constructs an empty Index.
func New() *Index {
	return &Index{
		worldSubs:  make(map[string]map[uuid.UUID]struct{}),
		areaSubs:   make(map[worldArea]map[uuid.UUID]struct{}),
		peerWorlds: make(map[uuid.UUID]map[string]struct{}),
		peerAreas:  make(map[uuid.UUID]map[worldArea]struct{}),
	}
}

// SubscribeWorld adds peer to world's subscriber set. Updated reports
// whether the peer was newly added (false if already subscribed). @global
// is rejected, matching the reserved-fan-out-target-only semantics of
// protocol.GlobalWorld.
func (idx *Index) SubscribeWorld(peer uuid.UUID, world string) (updated bool, err error) {
	if err := validateTarget(world, protocol.ErrSubscribeGlobal); err != nil {
		return false, err
	}

	set, ok := idx.worldSubs[world]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		idx.worldSubs[world] = set
	}
	if _, already := set[peer]; already {
		return false, nil
	}
	set[peer] = struct{}{}

	pw, ok := idx.peerWorlds[peer]
	if !ok {
		pw = make(map[string]struct{})
		idx.peerWorlds[peer] = pw
	}
	pw[world] = struct{}{}

	return true, nil
}

// UnsubscribeWorld removes peer from world's subscriber set and cascades:
// every area subscription the peer holds within that world is also removed.
// If the peer holds no world subscription to world, nothing changes and its
// area subscriptions there stay in place.
func (idx *Index) UnsubscribeWorld(peer uuid.UUID, world string) (updated bool, err error) {
	if err := validateTarget(world, protocol.ErrUnsubscribeGlobal); err != nil {
		return false, err
	}

	set, ok := idx.worldSubs[world]
	if !ok {
		return false, nil
	}
	if _, present := set[peer]; !present {
		return false, nil
	}
	delete(set, peer)
	if len(set) == 0 {
		delete(idx.worldSubs, world)
	}
	if pw, ok := idx.peerWorlds[peer]; ok {
		delete(pw, world)
		if len(pw) == 0 {
			delete(idx.peerWorlds, peer)
		}
	}

	idx.cascadeAreasForWorld(peer, world)

	return true, nil
}

// cascadeAreasForWorld drops every area subscription peer holds within
// world, used when the peer unsubscribes from that world.
func (idx *Index) cascadeAreasForWorld(peer uuid.UUID, world string) {
	pa, ok := idx.peerAreas[peer]
	if !ok {
		return
	}
	for wa := range pa {
		if wa.world != world {
			continue
		}
		idx.removeAreaSub(peer, wa)
		delete(pa, wa)
	}
	if len(pa) == 0 {
		delete(idx.peerAreas, peer)
	}
}

// SubscribeArea adds peer to the subscriber set of the given cell within
// world. The area is used as given; callers clamp positions beforehand.
// It does not subscribe the peer to the world itself.
func (idx *Index) SubscribeArea(peer uuid.UUID, world string, area spatial.Area) (updated bool, err error) {
	if err := validateTarget(world, protocol.ErrAreaSubscribeGlobal); err != nil {
		return false, err
	}

	wa := worldArea{world: world, area: area}
	set, ok := idx.areaSubs[wa]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		idx.areaSubs[wa] = set
	}
	if _, already := set[peer]; already {
		return false, nil
	}
	set[peer] = struct{}{}

	pa, ok := idx.peerAreas[peer]
	if !ok {
		pa = make(map[worldArea]struct{})
		idx.peerAreas[peer] = pa
	}
	pa[wa] = struct{}{}

	return true, nil
}

// UnsubscribeArea removes peer from the subscriber set of the given cell.
func (idx *Index) UnsubscribeArea(peer uuid.UUID, world string, area spatial.Area) (updated bool, err error) {
	if err := validateTarget(world, protocol.ErrAreaUnsubscribeGlobal); err != nil {
		return false, err
	}

	wa := worldArea{world: world, area: area}
	if _, present := idx.areaSubs[wa]; !present {
		return false, nil
	}
	if _, present := idx.areaSubs[wa][peer]; !present {
		return false, nil
	}

	idx.removeAreaSub(peer, wa)

	if pa, ok := idx.peerAreas[peer]; ok {
		delete(pa, wa)
		if len(pa) == 0 {
			delete(idx.peerAreas, peer)
		}
	}

	return true, nil
}

// removeAreaSub drops peer from areaSubs[wa], pruning the inner set (and
// its map entry) when it becomes empty so areaSubs never holds an empty
// bucket.
func (idx *Index) removeAreaSub(peer uuid.UUID, wa worldArea) {
	set, ok := idx.areaSubs[wa]
	if !ok {
		return
	}
	delete(set, peer)
	if len(set) == 0 {
		delete(idx.areaSubs, wa)
	}
}

// PeersForWorld returns the ids subscribed to world.
func (idx *Index) PeersForWorld(world string) []uuid.UUID {
	set, ok := idx.worldSubs[world]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// PeersForWorldAreas returns the union of peers subscribed to any area
// within world, regardless of whether they also hold a world subscription.
// Used by GlobalMessage fan-out, which targets peers_for_world(world) ∪
// peers_for_area_in_world(world, *).
func (idx *Index) PeersForWorldAreas(world string) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	for wa, set := range idx.areaSubs {
		if wa.world != world {
			continue
		}
		for id := range set {
			seen[id] = struct{}{}
		}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// PeersForArea returns the ids subscribed to the given cell of world.
func (idx *Index) PeersForArea(world string, area spatial.Area) []uuid.UUID {
	set, ok := idx.areaSubs[worldArea{world: world, area: area}]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// RemovePeer drops every subscription peer holds, worlds and areas alike.
// Called when the registry reports a peer removed (spec §4.5).
func (idx *Index) RemovePeer(peer uuid.UUID) {
	if pw, ok := idx.peerWorlds[peer]; ok {
		for world := range pw {
			if set, ok := idx.worldSubs[world]; ok {
				delete(set, peer)
				if len(set) == 0 {
					delete(idx.worldSubs, world)
				}
			}
		}
		delete(idx.peerWorlds, peer)
	}

	if pa, ok := idx.peerAreas[peer]; ok {
		for wa := range pa {
			idx.removeAreaSub(peer, wa)
		}
		delete(idx.peerAreas, peer)
	}
}

func validateTarget(world string, globalCode protocol.ErrorCode) error {
	if protocol.IsGlobalWorld(world) {
		return protocol.NewError(globalCode, "%q cannot be used as a subscription target", world)
	}
	return protocol.ValidateWorldName(world)
}
