// Package collector fills the four FLEX phase buffers from a stream of
// demodulated symbols, applying the protocol's bit-interleaving rule and
// tracking per-phase idle words.
package collector

const (
	// PhaseWords is the number of 32-bit words in each phase buffer.
	PhaseWords = 88

	indexHighMask  = 0xFFF8
	indexLowMask   = 0x0007
	bitCounterMask = 0xFF
	msbMask        = uint32(0x80000000)
)

// Phase identifies one of the four interleaved symbol streams.
type Phase int

const (
	PhaseA Phase = iota
	PhaseB
	PhaseC
	PhaseD
)

func (p Phase) String() string {
	switch p {
	case PhaseA:
		return "A"
	case PhaseB:
		return "B"
	case PhaseC:
		return "C"
	case PhaseD:
		return "D"
	default:
		return "?"
	}
}

type phaseBuffer struct {
	words     [PhaseWords]uint32
	idleCount int
}

func (b *phaseBuffer) clear() {
	b.words = [PhaseWords]uint32{}
	b.idleCount = 0
}

func (b *phaseBuffer) isIdle() bool {
	return b.idleCount > 0 // IDLE_THRESHOLD is 0: a single idle word suffices
}

// Collector accumulates demodulated symbols into the four phase buffers.
type Collector struct {
	phases         [4]phaseBuffer
	dataBitCounter uint32
	phaseToggle    bool
	baudRate       int
	fskLevels      int
}

// New returns an empty collector at 1600 baud, 2-level FSK.
func New() *Collector {
	c := &Collector{baudRate: 1600, fskLevels: 2}
	return c
}

// Reset clears every phase buffer and the interleaving counters.
func (c *Collector) Reset() {
	for i := range c.phases {
		c.phases[i].clear()
	}
	c.dataBitCounter = 0
	c.phaseToggle = false
}

// SetMode configures the transmission mode for the current frame.
func (c *Collector) SetMode(baudRate, fskLevels int) {
	c.baudRate = baudRate
	c.fskLevels = fskLevels
	c.phaseToggle = false
}

// Words returns the raw 32-bit words collected in the given phase.
func (c *Collector) Words(phase Phase) *[PhaseWords]uint32 {
	return &c.phases[phase].words
}

// ProcessSymbol folds one rectified symbol level (0..3) into the phase
// buffers and reports whether every active phase for the current mode
// has now gone idle.
func (c *Collector) ProcessSymbol(symbolRectified int) bool {
	bitA := symbolRectified > 1
	bitB := c.fskLevels == 4 && (symbolRectified == 1 || symbolRectified == 2)

	if c.baudRate == 1600 {
		c.phaseToggle = false
	}

	idx := c.bufferIndex()
	writtenLow, writtenHigh := c.writePhases(bitA, bitB, idx)

	if c.dataBitCounter&bitCounterMask == bitCounterMask {
		c.checkIdle(idx, writtenLow, writtenHigh)
	}

	if c.baudRate == 1600 || !c.phaseToggle {
		c.dataBitCounter++
	}

	return c.allActivePhasesIdle()
}

func (c *Collector) bufferIndex() uint32 {
	high := (c.dataBitCounter >> 5) & indexHighMask
	low := c.dataBitCounter & indexLowMask
	return high | low
}

// writePhases shifts bitA/bitB into the phase pair selected by the
// current toggle state, returns which phase pair was just written (so
// idle detection checks the phase just written, not the one the toggle
// flips to next), and advances the toggle for the following symbol.
func (c *Collector) writePhases(bitA, bitB bool, idx uint32) (low, high Phase) {
	if !c.phaseToggle {
		c.shiftIn(PhaseA, idx, bitA)
		c.shiftIn(PhaseB, idx, bitB)
		c.phaseToggle = true
		return PhaseA, PhaseB
	}
	c.shiftIn(PhaseC, idx, bitA)
	c.shiftIn(PhaseD, idx, bitB)
	c.phaseToggle = false
	return PhaseC, PhaseD
}

func (c *Collector) shiftIn(phase Phase, idx uint32, bit bool) {
	buf := &c.phases[phase]
	var msb uint32
	if bit {
		msb = msbMask
	}
	buf.words[idx] = (buf.words[idx] >> 1) | msb
}

func (c *Collector) checkIdle(idx uint32, phases ...Phase) {
	for _, phase := range phases {
		buf := &c.phases[phase]
		if isIdlePattern(buf.words[idx]) {
			buf.idleCount++
		}
	}
}

func isIdlePattern(word uint32) bool {
	return word == 0x00000000 || word == 0xFFFFFFFF
}

// allActivePhasesIdle reports whether every phase active in the current
// mode has observed at least one idle word.
func (c *Collector) allActivePhasesIdle() bool {
	if c.baudRate == 1600 {
		if c.fskLevels == 2 {
			return c.phases[PhaseA].isIdle()
		}
		return c.phases[PhaseA].isIdle() && c.phases[PhaseB].isIdle()
	}
	if c.fskLevels == 2 {
		return c.phases[PhaseA].isIdle() && c.phases[PhaseC].isIdle()
	}
	return c.phases[PhaseA].isIdle() && c.phases[PhaseB].isIdle() &&
		c.phases[PhaseC].isIdle() && c.phases[PhaseD].isIdle()
}

// ActivePhases returns the phases the current mode fills.
func (c *Collector) ActivePhases() []Phase {
	if c.baudRate == 1600 {
		if c.fskLevels == 2 {
			return []Phase{PhaseA}
		}
		return []Phase{PhaseA, PhaseB}
	}
	if c.fskLevels == 2 {
		return []Phase{PhaseA, PhaseC}
	}
	return []Phase{PhaseA, PhaseB, PhaseC, PhaseD}
}
