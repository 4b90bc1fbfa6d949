// Package demod implements the FLEX symbol-timing PLL: a software phase
// accumulator that tracks 2/4-level FSK zero crossings, quantizes the
// modal symbol level over each symbol period, and reports lock state.
package demod

import "math"

const (
	sliceThreshold    = 0.667
	dcOffsetFilter    = 0.010 // seconds
	phaseLockedRate   = 0.045
	phaseUnlockedRate = 0.050
	lockLength        = 24
	demodTimeout      = 100
	lockPattern       = uint64(0x6666666666666666)
)

// State is the caller's protocol state as the demodulator sees it: SYNC1
// is the only state where DC offset and envelope tracking run, and every
// other protocol state is StateOther.
type State int

const (
	StateSync1 State = iota
	StateOther
)

// Demodulator recovers symbol timing from a stream of baseband samples.
type Demodulator struct {
	sampleFrequency uint32
	currentBaud     int

	lastSample  float64
	locked      bool
	phase       int64
	sampleCount int64
	symbolCount int64
	zeroOffset  float64

	envelope      float64
	envelopeSum   float64
	envelopeCount int64
	symbolRate    float64

	modalSymbol  int
	symbolCounts [4]int

	lockBuffer     uint64
	timeoutCounter int
	nonConsecutive int

	// state hook lets the demodulator learn the caller's current protocol
	// state without depending on the state-machine package directly.
	stateFunc func() State
}

// New builds a demodulator for the given sample frequency, starting at
// 1600 baud, unlocked. stateFunc reports the caller's current protocol
// state; it may be nil, in which case DC/envelope tracking always runs
// (suitable for standalone testing).
func New(sampleFrequency uint32, stateFunc func() State) *Demodulator {
	return &Demodulator{
		sampleFrequency: sampleFrequency,
		currentBaud:     1600,
		stateFunc:       stateFunc,
	}
}

// Reset returns the demodulator to its initial unlocked state.
func (d *Demodulator) Reset() {
	*d = Demodulator{
		sampleFrequency: d.sampleFrequency,
		currentBaud:     1600,
		stateFunc:       d.stateFunc,
	}
}

// SetBaud changes the expected symbol rate, used when the state machine
// moves between FIW dotting (1600 baud) and the detected data baud.
func (d *Demodulator) SetBaud(baud int) {
	d.currentBaud = baud
}

// Locked reports whether the PLL has acquired symbol lock.
func (d *Demodulator) Locked() bool { return d.locked }

// SymbolRate returns the most recently measured symbol rate in symbols
// per second.
func (d *Demodulator) SymbolRate() float64 { return d.symbolRate }

// Envelope returns the tracked signal envelope.
func (d *Demodulator) Envelope() float64 { return d.envelope }

// DCOffset returns the tracked DC offset.
func (d *Demodulator) DCOffset() float64 { return d.zeroOffset }

func (d *Demodulator) currentState() State {
	if d.stateFunc == nil {
		return StateSync1
	}
	return d.stateFunc()
}

// ProcessSample runs one baseband sample through the PLL. It returns the
// modal symbol level (0..3) and true when a full symbol period has just
// completed.
func (d *Demodulator) ProcessSample(sample float64) (symbol int, complete bool) {
	phaseMax := int64(100) * int64(d.sampleFrequency)
	phaseRate := phaseMax * int64(d.currentBaud) / int64(d.sampleFrequency)
	phasePercent := 100.0 * float64(d.phase) / float64(phaseMax)

	d.sampleCount++

	if d.currentState() == StateSync1 {
		d.updateDCOffset(sample)
	}
	sample -= d.zeroOffset

	if d.locked {
		if d.currentState() == StateSync1 {
			d.updateEnvelope(sample)
		}
	} else {
		d.envelope = 0
		d.envelopeSum = 0
		d.envelopeCount = 0
		d.currentBaud = 1600
		d.timeoutCounter = 0
		d.nonConsecutive = 0
	}

	if phasePercent > 10.0 && phasePercent < 90.0 {
		d.countSymbolLevels(sample, phasePercent)
	}

	d.processZeroCrossing(sample, phasePercent, phaseMax)
	d.lastSample = sample

	d.phase += phaseRate
	if d.phase > phaseMax {
		d.phase -= phaseMax
		d.finalizeSymbol()
		return d.modalSymbol, true
	}

	return d.modalSymbol, false
}

func (d *Demodulator) updateDCOffset(sample float64) {
	filterTerm := float64(d.sampleFrequency) * dcOffsetFilter
	d.zeroOffset = (d.zeroOffset*filterTerm + sample) / (filterTerm + 1.0)
}

func (d *Demodulator) updateEnvelope(sample float64) {
	d.envelopeSum += math.Abs(sample)
	d.envelopeCount++
	d.envelope = d.envelopeSum / float64(d.envelopeCount)
}

func (d *Demodulator) countSymbolLevels(sample, phasePercent float64) {
	switch {
	case sample > 0 && sample > d.envelope*sliceThreshold:
		d.symbolCounts[3]++
	case sample > 0:
		d.symbolCounts[2]++
	case sample < -d.envelope*sliceThreshold:
		d.symbolCounts[0]++
	default:
		d.symbolCounts[1]++
	}
}

func (d *Demodulator) processZeroCrossing(sample, phasePercent float64, phaseMax int64) {
	crossed := (d.lastSample < 0 && sample >= 0) || (d.lastSample >= 0 && sample < 0)
	if !crossed {
		return
	}

	var phaseError float64
	if phasePercent < 50.0 {
		phaseError = float64(d.phase)
	} else {
		phaseError = float64(d.phase) - float64(phaseMax)
	}

	rate := phaseUnlockedRate
	if d.locked {
		rate = phaseLockedRate
	}
	d.phase -= int64(phaseError * rate)

	if phasePercent > 10.0 && phasePercent < 90.0 {
		d.nonConsecutive++
		if d.nonConsecutive > 20 && d.locked {
			d.locked = false
		}
	} else {
		d.nonConsecutive = 0
	}

	d.timeoutCounter = 0
}

func (d *Demodulator) finalizeSymbol() {
	maxCount := 0
	d.modalSymbol = 0
	for level := 0; level < 4; level++ {
		if d.symbolCounts[level] > maxCount {
			d.modalSymbol = level
			maxCount = d.symbolCounts[level]
		}
	}
	d.symbolCounts = [4]int{}

	d.symbolCount++
	d.symbolRate = float64(d.symbolCount*int64(d.sampleFrequency)) / float64(d.sampleCount)
	d.nonConsecutive = 0

	if !d.locked {
		d.checkLockPattern()
	}

	d.timeoutCounter++
	if d.timeoutCounter > demodTimeout {
		d.locked = false
	}
}

func (d *Demodulator) checkLockPattern() {
	d.lockBuffer = (d.lockBuffer << 2) | uint64(d.modalSymbol^0x1)

	lockDelta := d.lockBuffer ^ lockPattern
	lockMask := (uint64(1) << (2 * lockLength)) - 1

	if lockDelta&lockMask == 0 || (^lockDelta)&lockMask == 0 {
		d.locked = true
		d.lockBuffer = 0
		d.symbolCount = 0
		d.sampleCount = 0
	}
}
