package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nestkit/nestkit/internal/protocol"
)

const (
	composedRes protocol.ResourceID = 1
	slotRes     protocol.ResourceID = 2
	basicRes    protocol.ResourceID = 3

	backgroundPart protocol.PartID = 1
	hatSlot        protocol.PartID = 5
)

// wardrobe builds a parent token (0/1) with a composed resource exposing
// hatSlot and an accepted child (1/10) carrying a pending slot resource.
func wardrobe(t *testing.T) *world {
	t.Helper()
	w := newWorld(t, 2)
	w.ok(w.admin, w.base, protocol.ActionAddParts, protocol.AddParts{Parts: map[protocol.PartID]protocol.Part{
		backgroundPart: {Kind: protocol.PartFixed, MetadataURI: "ipfs://bg"},
		hatSlot:        {Kind: protocol.PartSlot, Z: 3},
	}}, protocol.EventPartsAdded)

	entries := []protocol.AddResourceEntry{
		{ID: composedRes, Resource: protocol.Resource{Kind: protocol.ResourceComposed, Base: w.base, Src: "ipfs://body"}},
		{ID: slotRes, Resource: protocol.Resource{Kind: protocol.ResourceSlot, Base: w.base, Slot: hatSlot, Src: "ipfs://hat"}},
		{ID: basicRes, Resource: protocol.Resource{Kind: protocol.ResourceBasic, Src: "ipfs://plain"}},
	}
	for _, e := range entries {
		w.ok(w.admin, w.col(0), protocol.ActionAddResourceEntry, e, protocol.EventResourceEntryAdded)
	}
	w.ok(w.admin, w.store, protocol.ActionAddPartToResource,
		protocol.AddPartToResource{ID: composedRes, Part: hatSlot}, protocol.EventPartAddedToResource)

	w.mint(0, w.alice, 1)
	w.mintInto(1, w.alice, 10, 0, 1)
	w.accept(0, w.alice, 1, 1, 10)

	w.ok(w.admin, w.col(0), protocol.ActionAddResource, protocol.AddResource{Token: tok(1), Resource: composedRes}, protocol.EventResourceAdded)
	w.ok(w.alice, w.col(0), protocol.ActionAcceptResource, protocol.ResourceOp{Token: tok(1), Resource: composedRes}, protocol.EventResourceAccepted)
	w.ok(w.admin, w.col(1), protocol.ActionAddResource, protocol.AddResource{Token: tok(10), Resource: slotRes}, protocol.EventResourceAdded)
	return w
}

func hat() protocol.Equip {
	return protocol.Equip{
		Token:              tok(10),
		Resource:           slotRes,
		Equippable:         protocol.TokenRef{Token: tok(1)},
		EquippableResource: composedRes,
		Slot:               hatSlot,
	}
}

func TestResourceLifecycle(t *testing.T) {
	w := wardrobe(t)

	t.Run("only admins add resources", func(t *testing.T) {
		w.fails(w.alice, w.col(0), protocol.ActionAddResourceEntry,
			protocol.AddResourceEntry{ID: 9, Resource: protocol.Resource{Kind: protocol.ResourceBasic}}, protocol.CodeUnauthorized)
		w.fails(w.alice, w.col(1), protocol.ActionAddResource, protocol.AddResource{Token: tok(10), Resource: basicRes}, protocol.CodeUnauthorized)
	})

	t.Run("unknown store entry", func(t *testing.T) {
		w.fails(w.admin, w.col(1), protocol.ActionAddResource, protocol.AddResource{Token: tok(10), Resource: 9}, protocol.CodeNotFound)
		w.fails(w.admin, w.col(0), protocol.ActionAddResourceEntry,
			protocol.AddResourceEntry{ID: basicRes, Resource: protocol.Resource{Kind: protocol.ResourceBasic}}, protocol.CodeConflict)
	})

	t.Run("accept requires the root owner", func(t *testing.T) {
		op := protocol.ResourceOp{Token: tok(10), Resource: slotRes}
		w.fails(w.bob, w.col(1), protocol.ActionAcceptResource, op, protocol.CodeUnauthorized)
		assert.Equal(t, []protocol.ResourceID{slotRes}, w.view(1, 10).PendingResources)
	})

	w.ok(w.admin, w.col(1), protocol.ActionAddResource, protocol.AddResource{Token: tok(10), Resource: basicRes}, protocol.EventResourceAdded)
	w.ok(w.alice, w.col(1), protocol.ActionRejectResource, protocol.ResourceOp{Token: tok(10), Resource: basicRes}, protocol.EventResourceRejected)
	w.ok(w.alice, w.col(1), protocol.ActionAcceptResource, protocol.ResourceOp{Token: tok(10), Resource: slotRes}, protocol.EventResourceAccepted)

	view := w.view(1, 10)
	assert.Empty(t, view.PendingResources)
	assert.Equal(t, []protocol.ResourceID{slotRes}, view.ActiveResources)

	w.fails(w.alice, w.col(1), protocol.ActionSetPriority, protocol.SetPriority{Token: tok(10), Priorities: []uint64{1, 2}}, protocol.CodeInvalidInput)
	w.ok(w.alice, w.col(1), protocol.ActionSetPriority, protocol.SetPriority{Token: tok(10), Priorities: []uint64{7}}, protocol.EventPrioritySet)
	assert.Equal(t, []uint64{7}, w.view(1, 10).Priorities)
}

func TestEquip(t *testing.T) {
	w := wardrobe(t)
	req := hat()
	req.Equippable.Actor = w.col(0)

	w.fails(w.alice, w.col(1), protocol.ActionEquip, req, protocol.CodeNotFound)
	w.ok(w.alice, w.col(1), protocol.ActionAcceptResource, protocol.ResourceOp{Token: tok(10), Resource: slotRes}, protocol.EventResourceAccepted)

	// the catalog does not list the child collection yet
	w.fails(w.alice, w.col(1), protocol.ActionEquip, req, protocol.CodeNotFound)
	w.ok(w.admin, w.base, protocol.ActionAddEquippableAddresses,
		protocol.EquippableAddresses{Part: hatSlot, Collections: []protocol.ActorRef{w.col(1)}}, protocol.EventEquippablesAdded)

	w.fails(w.bob, w.col(1), protocol.ActionEquip, req, protocol.CodeUnauthorized)
	w.ok(w.alice, w.col(1), protocol.ActionEquip, req, protocol.EventTokenEquipped)
	equipped := w.view(1, 10).Equipped
	if assert.NotNil(t, equipped) {
		assert.Equal(t, hatSlot, equipped.Slot)
		assert.Equal(t, w.ref(0, 1), equipped.Equippable)
	}
	w.fails(w.alice, w.col(1), protocol.ActionEquip, req, protocol.CodeConflict)

	w.ok(w.alice, w.col(1), protocol.ActionUnequip, protocol.Unequip{Token: tok(10)}, protocol.EventTokenUnequipped)
	assert.Nil(t, w.view(1, 10).Equipped)
	w.fails(w.alice, w.col(1), protocol.ActionUnequip, protocol.Unequip{Token: tok(10)}, protocol.CodeNotFound)

	t.Run("wrong slot", func(t *testing.T) {
		wrong := req
		wrong.Slot = backgroundPart
		w.fails(w.alice, w.col(1), protocol.ActionEquip, wrong, protocol.CodeInvalidInput)
	})

	t.Run("basic resources cannot be equipped", func(t *testing.T) {
		w.ok(w.admin, w.col(1), protocol.ActionAddResource, protocol.AddResource{Token: tok(10), Resource: basicRes}, protocol.EventResourceAdded)
		w.ok(w.alice, w.col(1), protocol.ActionAcceptResource, protocol.ResourceOp{Token: tok(10), Resource: basicRes}, protocol.EventResourceAccepted)
		basic := req
		basic.Resource = basicRes
		basic.Slot = 0
		w.fails(w.alice, w.col(1), protocol.ActionEquip, basic, protocol.CodeInvalidInput)
	})

	t.Run("parent must have accepted the child", func(t *testing.T) {
		w.mintInto(1, w.alice, 11, 0, 1)
		w.ok(w.admin, w.col(1), protocol.ActionAddResource, protocol.AddResource{Token: tok(11), Resource: slotRes}, protocol.EventResourceAdded)
		w.ok(w.alice, w.col(1), protocol.ActionAcceptResource, protocol.ResourceOp{Token: tok(11), Resource: slotRes}, protocol.EventResourceAccepted)
		pending := req
		pending.Token = tok(11)
		w.fails(w.alice, w.col(1), protocol.ActionEquip, pending, protocol.CodeNotFound)
	})
}

func TestBurnDropsEquipment(t *testing.T) {
	w := wardrobe(t)
	req := hat()
	req.Equippable.Actor = w.col(0)
	w.ok(w.alice, w.col(1), protocol.ActionAcceptResource, protocol.ResourceOp{Token: tok(10), Resource: slotRes}, protocol.EventResourceAccepted)
	w.ok(w.admin, w.base, protocol.ActionSetEquippableToAll, protocol.PartRef{Part: hatSlot}, protocol.EventEquippableToAllSet)
	w.ok(w.alice, w.col(1), protocol.ActionEquip, req, protocol.EventTokenEquipped)

	w.ok(w.alice, w.col(0), protocol.ActionBurn, protocol.Burn{Token: tok(1)}, protocol.EventTokensBurnt)
	w.gone(1, 10)
	assert.Equal(t, 0, w.cols[1].equipment.Len())
}

func TestTransferDropsEquipment(t *testing.T) {
	equipped := func(t *testing.T) *world {
		w := wardrobe(t)
		req := hat()
		req.Equippable.Actor = w.col(0)
		w.ok(w.alice, w.col(1), protocol.ActionAcceptResource, protocol.ResourceOp{Token: tok(10), Resource: slotRes}, protocol.EventResourceAccepted)
		w.ok(w.admin, w.base, protocol.ActionSetEquippableToAll, protocol.PartRef{Part: hatSlot}, protocol.EventEquippableToAllSet)
		w.ok(w.alice, w.col(1), protocol.ActionEquip, req, protocol.EventTokenEquipped)
		return w
	}

	t.Run("to an account", func(t *testing.T) {
		w := equipped(t)
		w.ok(w.alice, w.col(1), protocol.ActionTransfer, protocol.Transfer{To: w.bob, Token: tok(10)}, protocol.EventTransfer)
		view := w.view(1, 10)
		assert.Nil(t, view.ParentToken)
		assert.Nil(t, view.Equipped)
		assert.Empty(t, w.view(0, 1).Accepted)
		w.fails(w.bob, w.col(1), protocol.ActionUnequip, protocol.Unequip{Token: tok(10)}, protocol.CodeNotFound)
	})

	t.Run("to another parent", func(t *testing.T) {
		w := equipped(t)
		w.mint(0, w.alice, 2)
		w.ok(w.alice, w.col(1), protocol.ActionTransferToNft,
			protocol.TransferToNft{To: w.col(0), Token: tok(10), Destination: tok(2)}, protocol.EventTransferToNft)
		assert.Equal(t, []protocol.TokenRef{w.ref(1, 10)}, w.view(0, 2).Accepted)
		assert.Nil(t, w.view(1, 10).Equipped)
		assert.Equal(t, 0, w.cols[1].equipment.Len())
	})
}
