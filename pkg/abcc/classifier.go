// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package abcc

// dirSummary is the classifier input of one direction for one packet
type dirSummary struct {
	crcError   bool
	protoError bool
	cancel     bool
	activity   bool // message field bytes carried with M set
	fragment   bool // message in flight and not completed
	completed  bool
	errorResp  bool
	payload    bool // anything beyond idle status bytes
}

// classify assigns the packet type from both directions, highest priority first
func classify(mosi, miso dirSummary) PacketType {
	switch {
	case mosi.crcError || miso.crcError:
		return PacketChecksumError
	case mosi.protoError || miso.protoError:
		return PacketProtocolError
	case mosi.cancel || miso.cancel:
		return PacketCancel
	case mosi.activity && miso.activity:
		if mosi.errorResp || miso.errorResp {
			return PacketMultiError
		}
		return PacketMulti
	case mosi.errorResp || miso.errorResp:
		return PacketErrorResponse
	case mosi.fragment || miso.fragment:
		return PacketFragment
	case miso.completed:
		return PacketResponse
	case mosi.completed || mosi.payload:
		return PacketCommand
	default:
		return PacketNull
	}
}

// transactionTracker pairs commands with the responses that answer them
type transactionTracker struct {
	pending [2]map[uint8]int // by direction, source ID -> message index
}

func newTransactionTracker() *transactionTracker {
	return &transactionTracker{
		pending: [2]map[uint8]int{make(map[uint8]int), make(map[uint8]int)},
	}
}

// observe records a completed message and returns the transaction it closes
func (t *transactionTracker) observe(msgs []Message, idx int) (Transaction, bool) {
	m := msgs[idx]
	src := m.Header.SourceID
	if m.Header.IsCommand() {
		t.pending[m.Direction][src] = idx
		return Transaction{}, false
	}

	other := DirMosi
	if m.Direction == DirMosi {
		other = DirMiso
	}
	cmd, ok := t.pending[other][src]
	if !ok {
		return Transaction{}, false
	}
	delete(t.pending[other], src)

	return Transaction{
		Command:  cmd,
		Response: idx,
		SourceID: src,
		Error:    m.Header.IsError(),
		Start:    msgs[cmd].Start,
		End:      m.End,
	}, true
}
