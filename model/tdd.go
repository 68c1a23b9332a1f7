package model

import "fmt"

// TDDConfig describes a static TDD UL-DL pattern. The period repeats every
// PeriodSlots slots: the first DLSlots are downlink-only, the last ULSlots
// are uplink-only, and any slots between the two are flexible.
type TDDConfig struct {
	PeriodSlots uint32
	DLSlots     uint32
	ULSlots     uint32
}

// Validate reports whether the pattern is internally consistent.
func (c TDDConfig) Validate() error {
	if c.PeriodSlots == 0 {
		return fmt.Errorf("tdd: period of %d slots", c.PeriodSlots)
	}
	if c.DLSlots+c.ULSlots > c.PeriodSlots {
		return fmt.Errorf("tdd: %d DL + %d UL slots exceed period of %d", c.DLSlots, c.ULSlots, c.PeriodSlots)
	}
	return nil
}

// SlotIsDL reports whether slot s may carry downlink traffic under cfg.
// A nil config means FDD, where every slot carries both directions.
// Flexible slots count as both DL and UL.
func SlotIsDL(cfg *TDDConfig, s uint32) bool {
	if cfg == nil {
		return true
	}
	idx := s % cfg.PeriodSlots
	return idx < cfg.PeriodSlots-cfg.ULSlots
}

// SlotIsUL reports whether slot s may carry uplink traffic under cfg.
func SlotIsUL(cfg *TDDConfig, s uint32) bool {
	if cfg == nil {
		return true
	}
	idx := s % cfg.PeriodSlots
	return idx >= cfg.DLSlots
}
