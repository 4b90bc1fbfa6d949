// Package flex is the decoder facade: it owns the demodulator,
// synchronizer, data collector, BCH codec, group registry and frame
// processor, and drives them through the SYNC1/FIW/SYNC2/DATA state
// machine that turns a stream of baseband samples into parsed FLEX
// messages.
package flex

import (
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/cwsl/flexcore/internal/bch"
	"github.com/cwsl/flexcore/internal/collector"
	"github.com/cwsl/flexcore/internal/demod"
	"github.com/cwsl/flexcore/internal/frame"
	"github.com/cwsl/flexcore/internal/group"
	"github.com/cwsl/flexcore/internal/syncdetect"
)

// Protocol timing constants, bit-exact with the over-the-air FLEX frame
// structure; these govern state-machine transitions, not tuning knobs.
const (
	FIWDottingBits  = 16
	FIWTotalBits    = 48
	Sync2DurationMS = 25
	DataDurationMS  = 1760

	defaultBaudRate = 1600
)

// State is one of the four decoder states.
type State int

const (
	StateSync1 State = iota
	StateFIW
	StateSync2
	StateData
)

func (s State) String() string {
	switch s {
	case StateSync1:
		return "SYNC1"
	case StateFIW:
		return "FIW"
	case StateSync2:
		return "SYNC2"
	case StateData:
		return "DATA"
	default:
		return "?"
	}
}

// Metadata carries the framing context around a parsed message: the
// transmission mode and the FIW cycle/frame it arrived in.
type Metadata struct {
	BaudRate int
	Levels   int
	Polarity bool
	Cycle    int
	Frame    int
}

// Event is what OnMessage subscribers receive: one parsed message plus
// its framing metadata.
type Event struct {
	frame.Message
	Metadata Metadata
}

// SignalQuality is a read-only snapshot of the demodulator's tracking
// state, exposed for status/metrics surfaces.
type SignalQuality struct {
	Envelope   float64
	SymbolRate float64
	DCOffset   float64
	Locked     bool
	State      State
}

// Decoder is the FLEX decoder core: single-threaded, cooperative, driven
// entirely by ProcessSamples/ProcessSample.
type Decoder struct {
	SessionID uuid.UUID

	demodulator  *demod.Demodulator
	synchronizer *syncdetect.Synchronizer
	collector    *collector.Collector
	codec        *bch.Codec
	groups       *group.Registry

	state State

	fiwCount int
	fiwRaw   uint32

	sync2Count int
	dataCount  int

	baudRate int
	levels   int
	polarity bool

	cycleNo int
	frameNo int

	verbosity  int
	onMessage  func(Event)
	onFrame    func(frame.Result)
	onGroupExp func(count int)
	onSymbol   func()
}

// New constructs a decoder for the given sample frequency, ready to
// consume samples starting in SYNC1.
func New(sampleFrequency uint32) *Decoder {
	d := &Decoder{
		SessionID: uuid.New(),
		codec:     bch.NewFlexCodec(),
		groups:    group.New(),
		collector: collector.New(),
		baudRate:  defaultBaudRate,
		levels:    2,
		verbosity: 1,
	}
	d.synchronizer = syncdetect.New()
	d.demodulator = demod.New(sampleFrequency, d.demodState)
	return d
}

// demodState reports the decoder's current protocol state to the
// demodulator, which only runs DC/envelope tracking during SYNC1.
func (d *Decoder) demodState() demod.State {
	if d.state == StateSync1 {
		return demod.StateSync1
	}
	return demod.StateOther
}

// Reset returns every sub-component and the state machine to its
// initial condition.
func (d *Decoder) Reset() {
	d.demodulator.Reset()
	d.synchronizer.Reset()
	d.collector.Reset()
	d.groups.Reset()

	d.state = StateSync1
	d.fiwCount = 0
	d.fiwRaw = 0
	d.sync2Count = 0
	d.dataCount = 0
	d.baudRate = defaultBaudRate
	d.levels = 2

	d.logf(2, "Decoder reset")
}

// SetVerbosity changes the diagnostic logging threshold checked before
// each log line; 0 is silent, higher values are progressively chattier.
func (d *Decoder) SetVerbosity(level int) {
	d.verbosity = level
}

// OnMessage registers the callback invoked synchronously, in protocol
// order, for every message emitted by frame processing. A nil callback
// disables emission without otherwise changing decoder behavior.
func (d *Decoder) OnMessage(fn func(Event)) {
	d.onMessage = fn
}

// OnFrame registers the callback invoked once per completed DATA phase
// with the frame.Result bookkeeping (BCH counts, abandoned/decoded
// phases, group registration/delivery counts) that processCompletedFrame
// would otherwise only log and discard. A nil callback disables it.
func (d *Decoder) OnFrame(fn func(frame.Result)) {
	d.onFrame = fn
}

// OnGroupExpiry registers the callback invoked with the number of Short
// Instruction group registrations that expired unused, once per FIW that
// swept expired entries out of the group registry. A nil callback
// disables it.
func (d *Decoder) OnGroupExpiry(fn func(count int)) {
	d.onGroupExp = fn
}

// OnSymbol registers the callback invoked once per demodulated symbol,
// for symbol-throughput metrics. A nil callback disables it.
func (d *Decoder) OnSymbol(fn func()) {
	d.onSymbol = fn
}

// CurrentState reports the decoder's position in the SYNC1/FIW/SYNC2/DATA
// state machine.
func (d *Decoder) CurrentState() State { return d.state }

// Locked reports whether the demodulator's PLL currently has symbol
// lock.
func (d *Decoder) Locked() bool { return d.demodulator.Locked() }

// SignalQuality snapshots the demodulator's tracking state alongside the
// current protocol state, for status/metrics surfaces.
func (d *Decoder) SignalQuality() SignalQuality {
	return SignalQuality{
		Envelope:   d.demodulator.Envelope(),
		SymbolRate: d.demodulator.SymbolRate(),
		DCOffset:   d.demodulator.DCOffset(),
		Locked:     d.demodulator.Locked(),
		State:      d.state,
	}
}

// ProcessSamples runs a batch of baseband samples through the decoder in
// order.
func (d *Decoder) ProcessSamples(samples []float32) {
	for _, s := range samples {
		d.ProcessSample(s)
	}
}

// ProcessSample runs a single baseband sample through the decoder.
func (d *Decoder) ProcessSample(sample float32) {
	symbol, complete := d.demodulator.ProcessSample(float64(sample))
	if complete {
		if d.onSymbol != nil {
			d.onSymbol()
		}
		d.processSymbol(symbol)
	}
}

func (d *Decoder) processSymbol(symbol int) {
	// The synchronizer matches both polarities itself; after sync, an
	// inverted transmission is rectified before FIW/DATA handling.
	if d.state != StateSync1 && d.polarity {
		symbol = 3 - symbol
	}
	switch d.state {
	case StateSync1:
		d.handleSync1(symbol)
	case StateFIW:
		d.handleFIW(symbol)
	case StateSync2:
		d.handleSync2(symbol)
	case StateData:
		d.handleData(symbol)
	}
}

func (d *Decoder) handleSync1(symbol int) {
	syncCode := d.synchronizer.ProcessSymbol(symbol)
	if syncCode == 0 {
		return
	}

	info, ok := d.synchronizer.DecodeMode(syncCode)
	if !ok {
		// Unknown sync code: default to 1600/2-level and proceed rather
		// than stall in SYNC1 waiting for a code that will never match.
		info.BaudRate = 1600
		info.Levels = 2
		d.logf(2, "SyncInfoWord: unrecognized sync_code=0x%X, defaulting to 1600/2", syncCode)
	}

	d.baudRate = info.BaudRate
	d.levels = info.Levels
	d.polarity = info.Polarity
	d.demodulator.SetBaud(d.baudRate)
	d.collector.SetMode(d.baudRate, d.levels)

	d.logf(2, "SyncInfoWord: sync_code=0x%X baud=%d levels=%d polarity=%s",
		syncCode, d.baudRate, d.levels, polarityLabel(d.polarity))

	d.state = StateFIW
	d.fiwCount = 0
	d.fiwRaw = 0
}

func polarityLabel(inverted bool) string {
	if inverted {
		return "NEG"
	}
	return "POS"
}

func (d *Decoder) handleFIW(symbol int) {
	d.fiwCount++

	if d.fiwCount > FIWDottingBits {
		var bit uint32
		if symbol > 1 {
			bit = 0x80000000
		}
		d.fiwRaw = (d.fiwRaw >> 1) | bit
	}

	if d.fiwCount != FIWTotalBits {
		return
	}

	corrected, ok := d.codec.FixErrors(d.fiwRaw)
	if !ok {
		d.logf(3, "Unable to decode FIW, too much data corruption")
		d.state = StateSync1
		return
	}

	data := d.codec.ExtractData(corrected)
	cycleNo := int((data >> 4) & 0xF)
	frameNo := int((data >> 8) & 0x7F)

	checksum := (data & 0xF) +
		((data >> 4) & 0xF) +
		((data >> 8) & 0xF) +
		((data >> 12) & 0xF) +
		((data >> 16) & 0xF) +
		((data >> 20) & 0x1)

	if checksum&0xF != 0xF {
		d.logf(3, "Bad FIW checksum")
		d.state = StateSync1
		return
	}

	d.cycleNo = cycleNo
	d.frameNo = frameNo

	if d.verbosity >= 2 {
		timeSeconds := cycleNo*4*60 + frameNo*4*60/128
		d.logf(2, "FrameInfoWord: cycleno=%d frameno=%d time=%d:%02d",
			cycleNo, frameNo, timeSeconds/60, timeSeconds%60)
	}

	expired := d.groups.Cleanup(cycleNo, frameNo)
	for _, groupBit := range expired {
		d.logf(3, "Missed group message for group bit %d", groupBit)
	}
	if len(expired) > 0 && d.onGroupExp != nil {
		d.onGroupExp(len(expired))
	}

	d.state = StateSync2
	d.sync2Count = 0
}

func (d *Decoder) handleSync2(symbol int) {
	d.sync2Count++

	sync2Symbols := d.baudRate * Sync2DurationMS / 1000
	if d.sync2Count < sync2Symbols {
		return
	}

	d.state = StateData
	d.dataCount = 0
	d.collector.Reset()
	d.logf(2, "State: DATA")
}

func (d *Decoder) handleData(symbol int) {
	allIdle := d.collector.ProcessSymbol(symbol)
	d.dataCount++

	maxDataSymbols := d.baudRate * DataDurationMS / 1000
	if d.dataCount < maxDataSymbols && !allIdle {
		return
	}

	d.processCompletedFrame()

	d.state = StateSync1
	d.demodulator.SetBaud(defaultBaudRate)
	d.dataCount = 0
}

func (d *Decoder) processCompletedFrame() {
	result := frame.ProcessFrame(d.collector, d.codec, d.groups, d.cycleNo, d.frameNo)

	d.logf(3, "Frame processing complete: %d messages decoded, %d abandoned phases",
		len(result.Messages), result.PhasesAbandoned)

	for _, err := range result.Errors {
		d.logf(2, "%s", err)
	}

	if d.onFrame != nil {
		d.onFrame(result)
	}

	if d.onMessage == nil {
		return
	}

	meta := Metadata{
		BaudRate: d.baudRate,
		Levels:   d.levels,
		Polarity: d.polarity,
		Cycle:    d.cycleNo,
		Frame:    d.frameNo,
	}
	for _, msg := range result.Messages {
		d.onMessage(Event{Message: msg, Metadata: meta})
	}
}

func (d *Decoder) logf(level int, format string, args ...interface{}) {
	if d.verbosity < level {
		return
	}
	log.Printf("[FLEX_NEXT] "+format, args...)
}

// FormatLine renders ev in the byte-exact FLEX_NEXT output line format.
func FormatLine(ev Event) string {
	var b strings.Builder

	fmt.Fprintf(&b, "FLEX_NEXT|%d/%d|%02d.%03d.%s|%010d|%s%s|%d|%s|",
		ev.Metadata.BaudRate, ev.Metadata.Levels,
		ev.Metadata.Cycle, ev.Metadata.Frame, ev.Phase,
		ev.Capcode,
		addressFlag(ev.LongAddress), groupFlag(ev.IsGroupMessage),
		ev.Type.Digit(), ev.Type.Tag())

	if tag := ev.Type.Tag(); tag == "SEC" || tag == "ALN" {
		fmt.Fprintf(&b, "%d.%d.%s|", ev.FragmentNumber&0x3, boolToBit(ev.ContinuationFlag), ev.FragmentFlag)
	}

	for _, groupCapcode := range ev.GroupCapcodes {
		fmt.Fprintf(&b, "%010d|", groupCapcode)
	}

	b.WriteString(ev.Content)

	return b.String()
}

func addressFlag(longAddress bool) string {
	if longAddress {
		return "L"
	}
	return "S"
}

func groupFlag(isGroup bool) string {
	if isGroup {
		return "G"
	}
	return "S"
}

func boolToBit(b bool) int {
	if b {
		return 1
	}
	return 0
}
