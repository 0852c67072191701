package state

// Equipment is the weapon capability attached to an equipment slot. The
// simulation treats it as opaque: it is ticked once per live frame and poked on
// discrete actions.
type Equipment interface {
	Tick()
	Fire()
	Reload()
	GiveClip()
	IsReloading() bool
	Clips() int
	ClipAmmo() int
}

// EquipmentSlots is the number of selectable equipment slots per player.
const EquipmentSlots = 4

// DefaultSlot is the slot selected for a freshly reset player.
const DefaultSlot = 2

// NopEquipment fills empty slots.
type NopEquipment struct{}

func (NopEquipment) Tick()             {}
func (NopEquipment) Fire()             {}
func (NopEquipment) Reload()           {}
func (NopEquipment) GiveClip()         {}
func (NopEquipment) IsReloading() bool { return false }
func (NopEquipment) Clips() int        { return 0 }
func (NopEquipment) ClipAmmo() int     { return 0 }
