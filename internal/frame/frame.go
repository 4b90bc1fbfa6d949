// Package frame turns a completed set of phase buffers into parsed FLEX
// messages: BCH-correcting every word, walking the Block/Address/Vector
// Information Word structure, and dispatching each vector to the
// matching payload parser.
package frame

import (
	"github.com/cwsl/flexcore/internal/bch"
	"github.com/cwsl/flexcore/internal/collector"
	"github.com/cwsl/flexcore/internal/group"
	"github.com/cwsl/flexcore/internal/message"
)

const (
	idlePattern     = 0x1FFFFF
	maxCapcode      = 4297068542
	longAddrLow     = 0x8001
	longAddrMidL    = 0x1E0000
	longAddrMidH    = 0x1F0001
	longAddrHigh    = 0x1F7FFE
	longAddrConst   = 2068480
	shortAddrOffset = 0x8000
)

// Message is one parsed AIW/VIW pair, ready for output formatting.
type Message struct {
	Phase            collector.Phase
	Capcode          int64
	LongAddress      bool
	IsGroupMessage   bool
	GroupBit         int
	Type             message.Type
	Content          string
	FragmentFlag     message.FragmentFlag
	FragmentNumber   uint32
	ContinuationFlag bool
	GroupCapcodes    []int64
}

// Result summarizes a single call to ProcessFrame: the messages emitted
// plus BCH and structural bookkeeping for diagnostics.
type Result struct {
	Messages           []Message
	Errors             []string
	PhasesAbandoned    int
	PhasesDecoded      []collector.Phase
	WordsClean         int
	WordsCorrected     int
	WordsFailed        int
	GroupRegistrations int
	GroupDeliveries    int
}

// ProcessFrame BCH-corrects and parses every active phase of col for the
// given transmission mode and FIW-derived cycle/frame numbers.
func ProcessFrame(col *collector.Collector, codec *bch.Codec, groups *group.Registry, cycleNumber, frameNumber int) Result {
	var result Result

	for _, phase := range col.ActivePhases() {
		words := *col.Words(phase)
		usable, clean, fixedCount, failed := applyErrorCorrection(codec, &words)
		result.WordsClean += clean
		result.WordsCorrected += fixedCount
		result.WordsFailed += failed

		if !usable {
			result.PhasesAbandoned++
			continue
		}

		messages, errs, registrations, deliveries := processPhase(words[:], phase, cycleNumber, frameNumber, groups)
		result.Messages = append(result.Messages, messages...)
		result.Errors = append(result.Errors, errs...)
		result.GroupRegistrations += registrations
		result.GroupDeliveries += deliveries
		result.PhasesDecoded = append(result.PhasesDecoded, phase)
	}

	return result
}

// applyErrorCorrection BCH-corrects every word in place, replacing an
// uncorrectable word with the idle pattern. It abandons the phase (false)
// if more than half the words could not be corrected.
func applyErrorCorrection(codec *bch.Codec, words *[collector.PhaseWords]uint32) (ok bool, clean, corrected, failed int) {
	for i, w := range words {
		fixed, good := codec.FixErrors(w)
		switch {
		case !good:
			failed++
			words[i] = idlePattern
		case fixed != w&0x7FFFFFFF:
			corrected++
			words[i] = codec.ExtractData(fixed)
		default:
			clean++
			words[i] = codec.ExtractData(fixed)
		}
	}
	return failed <= len(words)/2, clean, corrected, failed
}

func processPhase(words []uint32, phase collector.Phase, cycleNumber, frameNumber int, groups *group.Registry) (messages []Message, errs []string, registrations, deliveries int) {
	addressOffset, vectorOffset, ok := extractBlockInfoWord(words)
	if !ok {
		return nil, nil, 0, 0
	}
	maxPages := vectorOffset - addressOffset

	for i := addressOffset; i < vectorOffset; i++ {
		aiwRaw := words[i]
		if aiwRaw == 0 || aiwRaw == idlePattern {
			continue
		}

		var nextRaw uint32
		if i+1 < len(words) {
			nextRaw = words[i+1]
		}

		longAddress, capcode, isGroup, groupBit, valid := classifyAddress(aiwRaw, nextRaw)
		if !valid {
			continue
		}
		if isGroup && longAddress {
			i++ // still consumes the address-extension word
			continue
		}

		vectorIndex := vectorOffset + (i - addressOffset)
		if vectorIndex >= len(words) {
			continue
		}
		viwRaw := words[vectorIndex]

		msgType := message.Type((viwRaw >> 4) & 0x7)
		mw1 := (viwRaw >> 7) & 0x7F
		length := (viwRaw >> 14) & 0x7F

		var headerIndex uint32
		if longAddress {
			headerIndex = uint32(vectorIndex + 1)
			if length >= 1 {
				length--
			}
		} else {
			headerIndex = mw1
			mw1++
			if !isGroup && length >= 1 {
				length--
			}
		}

		var headerWord uint32
		if int(headerIndex) < len(words) {
			headerWord = words[headerIndex]
		}
		fragmentNumber := (headerWord >> 11) & 0x3
		continuationFlag := (headerWord>>10)&0x1 != 0

		if msgType == message.TypeShortInstruction {
			groups.Register(capcode, viwRaw, cycleNumber, frameNumber)
			registrations++
			if longAddress {
				i++
			}
			continue
		}

		if msgType == message.TypeTone {
			mw1 = 0
			length = 0
		} else {
			lowerBound := uint32(vectorOffset) + uint32(maxPages)
			if mw1 < lowerBound || mw1 >= collector.PhaseWords || length == 0 {
				if longAddress {
					i++
				}
				continue
			}
			if mw1+length > collector.PhaseWords {
				length = collector.PhaseWords - mw1
			}
		}

		result, err := message.Parse(message.Input{
			PhaseData:        words,
			Type:             msgType,
			MessageWordStart: mw1,
			MessageLength:    length,
			HeaderWordIndex:  headerIndex,
			VectorWordIndex:  uint32(vectorIndex),
			FragmentNumber:   fragmentNumber,
			ContinuationFlag: continuationFlag,
			LongAddress:      longAddress,
			IsGroupMessage:   isGroup,
			GroupBit:         groupBit,
		})
		if err != nil {
			errs = append(errs, err.Error())
			if longAddress {
				i++
			}
			continue
		}

		msg := Message{
			Phase:            phase,
			Capcode:          capcode,
			LongAddress:      longAddress,
			IsGroupMessage:   isGroup,
			GroupBit:         groupBit,
			Type:             msgType,
			Content:          result.Content,
			FragmentFlag:     result.FragmentFlag,
			FragmentNumber:   fragmentNumber,
			ContinuationFlag: continuationFlag,
		}
		if isGroup {
			if entry, found := groups.Deliver(groupBit); found {
				msg.GroupCapcodes = entry.Capcodes
				deliveries++
			}
		}
		messages = append(messages, msg)

		if longAddress {
			i++
		}
	}

	return messages, errs, registrations, deliveries
}

// extractBlockInfoWord reads word 0 of a phase buffer and validates its
// address/vector offsets.
func extractBlockInfoWord(words []uint32) (addressOffset, vectorOffset int, ok bool) {
	if len(words) == 0 {
		return 0, 0, false
	}
	biw := words[0]
	if biw == 0 || biw == idlePattern {
		return 0, 0, false
	}

	addressOffset = int((biw>>8)&0x3) + 1
	vectorOffset = int((biw >> 10) & 0x3F)
	if vectorOffset <= addressOffset {
		return 0, 0, false
	}
	return addressOffset, vectorOffset, true
}

// classifyAddress decides short vs long addressing and computes the
// capcode, following the boundary values fixed by the protocol.
func classifyAddress(raw, nextRaw uint32) (longAddress bool, capcode int64, isGroup bool, groupBit int, valid bool) {
	longAddress = raw < longAddrLow ||
		(raw > longAddrMidL && raw < longAddrMidH) ||
		raw > longAddrHigh

	if longAddress {
		capcode = int64(nextRaw^0x1FFFFF)<<15 + longAddrConst + int64(raw)
	} else {
		capcode = int64(raw) - shortAddrOffset
	}

	if capcode < 0 || capcode > maxCapcode {
		return longAddress, 0, false, 0, false
	}

	isGroup = group.IsGroupCapcode(capcode)
	if isGroup {
		groupBit = group.GroupBit(capcode)
	}

	return longAddress, capcode, isGroup, groupBit, true
}
