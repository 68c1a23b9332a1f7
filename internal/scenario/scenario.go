// Package scenario describes simulation scenarios: the cells and UEs to
// configure and a slot-programmed traffic script to replay against the
// scheduler.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/ran-scheduler/model"
	"github.com/signalsfoundry/ran-scheduler/slot"
)

// Traffic event kinds accepted in scenario files.
const (
	KindDLBuffer = "dl_buffer"
	KindBSR      = "bsr"
	KindSR       = "sr"
	KindRACH     = "rach"
)

// Scenario is a parsed scenario file.
type Scenario struct {
	Name    string  `yaml:"name"`
	Cells   []Cell  `yaml:"cells"`
	UEs     []UE    `yaml:"ues"`
	Traffic Traffic `yaml:"traffic"`
}

// Cell declares one cell to configure before the run starts.
type Cell struct {
	Index         uint32      `yaml:"index"`
	SCSkHz        uint32      `yaml:"scs_khz"`
	NumPRBs       uint32      `yaml:"prbs"`
	HARQProcesses uint8       `yaml:"harq_processes"`
	MaxReTx       uint32      `yaml:"max_retx"`
	DefaultMCS    uint32      `yaml:"default_mcs"`
	MaxPRBsPerUE  uint32      `yaml:"max_prbs_per_ue"`
	Policy        string      `yaml:"policy"`
	TDD           *TDDPattern `yaml:"tdd"`
}

// TDDPattern mirrors model.TDDConfig in scenario files. A cell without one
// runs FDD.
type TDDPattern struct {
	PeriodSlots uint32 `yaml:"period_slots"`
	DLSlots     uint32 `yaml:"dl_slots"`
	ULSlots     uint32 `yaml:"ul_slots"`
}

// UE declares one UE to create before the run starts.
type UE struct {
	Index  uint32   `yaml:"index"`
	RNTI   uint16   `yaml:"rnti"`
	PCell  uint32   `yaml:"pcell"`
	SCells []uint32 `yaml:"scells"`
}

// Traffic is the scripted and randomized load offered during the run.
type Traffic struct {
	// Seed feeds the run's random source. Runs with the same scenario and
	// seed replay identical load and feedback.
	Seed int64 `yaml:"seed"`

	// DLErrorRate and ULErrorRate are the probabilities that a transport
	// block fails decoding and is reported NACK (DL) or CRC KO (UL).
	DLErrorRate float64 `yaml:"dl_error_rate"`
	ULErrorRate float64 `yaml:"ul_error_rate"`

	// Events are replayed at fixed slot offsets from the start of the run.
	Events []Event `yaml:"events"`

	// Load adds per-slot randomized traffic on top of the scripted events.
	Load []LoadProfile `yaml:"load"`
}

// Event is one scripted traffic action.
type Event struct {
	AtSlot uint32 `yaml:"at_slot"`
	Kind   string `yaml:"kind"`
	UE     uint32 `yaml:"ue"`
	Cell   uint32 `yaml:"cell"`
	LCID   uint8  `yaml:"lcid"`
	LCG    uint8  `yaml:"lcg"`
	Bytes  uint32 `yaml:"bytes"`
}

// LoadProfile drives randomized buffer updates for one UE. Probabilities
// are evaluated once per slot; downlink bytes land on the given LCID,
// uplink bytes on the given LCG.
type LoadProfile struct {
	UE            uint32  `yaml:"ue"`
	LCID          uint8   `yaml:"lcid"`
	LCG           uint8   `yaml:"lcg"`
	DLProbability float64 `yaml:"dl_probability"`
	ULProbability float64 `yaml:"ul_probability"`
	MinBytes      uint32  `yaml:"min_bytes"`
	MaxBytes      uint32  `yaml:"max_bytes"`
}

// Load reads and parses the scenario file at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Numerology returns the numerology shared by all cells. Valid only after a
// successful Parse, which checks that cells agree on subcarrier spacing.
func (s *Scenario) Numerology() slot.Numerology {
	scs, _ := numerologyFromKHz(s.Cells[0].SCSkHz)
	return scs
}

// ConfigRequest converts the declaration into the scheduler's request type.
func (c Cell) ConfigRequest() model.CellConfigRequest {
	scs, _ := numerologyFromKHz(c.SCSkHz)
	req := model.CellConfigRequest{
		CellIndex:        model.CellIndex(c.Index),
		SCS:              scs,
		NumPRBs:          c.NumPRBs,
		NumHARQProcesses: c.HARQProcesses,
		MaxReTx:          c.MaxReTx,
		DefaultMCS:       c.DefaultMCS,
		MaxPRBsPerUE:     c.MaxPRBsPerUE,
		Policy:           c.Policy,
	}
	if c.TDD != nil {
		req.TDD = &model.TDDConfig{
			PeriodSlots: c.TDD.PeriodSlots,
			DLSlots:     c.TDD.DLSlots,
			ULSlots:     c.TDD.ULSlots,
		}
	}
	return req
}

// CreationRequest converts the declaration into the scheduler's request type.
func (u UE) CreationRequest() model.UECreationRequest {
	req := model.UECreationRequest{
		UEIndex: model.UEIndex(u.Index),
		RNTI:    model.RNTI(u.RNTI),
		PCell:   model.CellIndex(u.PCell),
	}
	for _, sc := range u.SCells {
		req.SCells = append(req.SCells, model.CellIndex(sc))
	}
	return req
}

func (s *Scenario) validate() error {
	if len(s.Cells) == 0 {
		return fmt.Errorf("scenario declares no cells")
	}

	cells := make(map[uint32]bool, len(s.Cells))
	for i, c := range s.Cells {
		if _, ok := numerologyFromKHz(c.SCSkHz); !ok {
			return fmt.Errorf("cells[%d]: unsupported subcarrier spacing %d kHz", i, c.SCSkHz)
		}
		if c.SCSkHz != s.Cells[0].SCSkHz {
			return fmt.Errorf("cells[%d]: subcarrier spacing %d kHz differs from cells[0]; one slot clock drives all cells", i, c.SCSkHz)
		}
		if cells[c.Index] {
			return fmt.Errorf("cells[%d]: duplicate cell index %d", i, c.Index)
		}
		cells[c.Index] = true
	}

	ues := make(map[uint32]bool, len(s.UEs))
	for i, u := range s.UEs {
		if u.RNTI == 0 {
			return fmt.Errorf("ues[%d]: RNTI must be nonzero", i)
		}
		if ues[u.Index] {
			return fmt.Errorf("ues[%d]: duplicate UE index %d", i, u.Index)
		}
		ues[u.Index] = true
		if !cells[u.PCell] {
			return fmt.Errorf("ues[%d]: pcell %d is not declared", i, u.PCell)
		}
		for _, sc := range u.SCells {
			if !cells[sc] {
				return fmt.Errorf("ues[%d]: scell %d is not declared", i, sc)
			}
		}
	}

	// Slot counts wrap at the hyperframe, so a larger offset would alias
	// to an earlier slot instead of firing late.
	maxSlot := s.Numerology().SlotsPerHyperFrame()
	for i, ev := range s.Traffic.Events {
		if ev.AtSlot >= maxSlot {
			return fmt.Errorf("traffic.events[%d]: at_slot %d exceeds the %d-slot hyperframe", i, ev.AtSlot, maxSlot)
		}
		switch ev.Kind {
		case KindDLBuffer, KindBSR:
			if !ues[ev.UE] {
				return fmt.Errorf("traffic.events[%d]: UE %d is not declared", i, ev.UE)
			}
			if ev.Bytes == 0 {
				return fmt.Errorf("traffic.events[%d]: %s event with zero bytes", i, ev.Kind)
			}
			if ev.Kind == KindDLBuffer && ev.LCID >= model.MaxLCIDs {
				return fmt.Errorf("traffic.events[%d]: LCID %d out of range", i, ev.LCID)
			}
			if ev.Kind == KindBSR && ev.LCG >= model.MaxLCGs {
				return fmt.Errorf("traffic.events[%d]: LCG %d out of range", i, ev.LCG)
			}
		case KindSR:
			if !ues[ev.UE] {
				return fmt.Errorf("traffic.events[%d]: UE %d is not declared", i, ev.UE)
			}
		case KindRACH:
			if !cells[ev.Cell] {
				return fmt.Errorf("traffic.events[%d]: cell %d is not declared", i, ev.Cell)
			}
		default:
			return fmt.Errorf("traffic.events[%d]: unknown kind %q", i, ev.Kind)
		}
	}

	for i, lp := range s.Traffic.Load {
		if !ues[lp.UE] {
			return fmt.Errorf("traffic.load[%d]: UE %d is not declared", i, lp.UE)
		}
		if lp.LCID >= model.MaxLCIDs {
			return fmt.Errorf("traffic.load[%d]: LCID %d out of range", i, lp.LCID)
		}
		if lp.LCG >= model.MaxLCGs {
			return fmt.Errorf("traffic.load[%d]: LCG %d out of range", i, lp.LCG)
		}
		if lp.DLProbability < 0 || lp.DLProbability > 1 || lp.ULProbability < 0 || lp.ULProbability > 1 {
			return fmt.Errorf("traffic.load[%d]: probabilities must be within [0, 1]", i)
		}
		if lp.MaxBytes < lp.MinBytes {
			return fmt.Errorf("traffic.load[%d]: max_bytes %d below min_bytes %d", i, lp.MaxBytes, lp.MinBytes)
		}
		if (lp.DLProbability > 0 || lp.ULProbability > 0) && lp.MaxBytes == 0 {
			return fmt.Errorf("traffic.load[%d]: max_bytes must be positive", i)
		}
	}

	if bad(s.Traffic.DLErrorRate) || bad(s.Traffic.ULErrorRate) {
		return fmt.Errorf("traffic: error rates must be within [0, 1]")
	}
	return nil
}

func bad(rate float64) bool { return rate < 0 || rate > 1 }

func numerologyFromKHz(khz uint32) (slot.Numerology, bool) {
	switch khz {
	case 15:
		return slot.SCS15kHz, true
	case 30:
		return slot.SCS30kHz, true
	case 60:
		return slot.SCS60kHz, true
	case 120:
		return slot.SCS120kHz, true
	case 240:
		return slot.SCS240kHz, true
	default:
		return 0, false
	}
}
