package enums

import (
	"slices"
	"strings"
)

// SlotStatus is the lifecycle state of a numbered slot.
type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusReserved  SlotStatus = "reserved"
	SlotStatusSold      SlotStatus = "sold"
)

// display order for admin summaries
var slotStatuses = []SlotStatus{SlotStatusAvailable, SlotStatusReserved, SlotStatusSold}

func (s SlotStatus) String() string { return string(s) }

func (s SlotStatus) IsValid() bool { return slices.Contains(slotStatuses, s) }

// ParseSlotStatus ignores case and surrounding space; admin filters come
// from query strings.
func ParseSlotStatus(raw string) (SlotStatus, error) {
	s, err := parse(strings.ToLower(strings.TrimSpace(raw)), "slot status", slotStatuses)
	if err != nil {
		return "", err
	}
	return s, nil
}

func SlotStatuses() []SlotStatus { return slices.Clone(slotStatuses) }
