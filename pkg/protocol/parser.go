package protocol

type parserState int

const (
	awaitStart parserState = iota
	collecting
	awaitEnd1
	awaitEnd2
)

var parserStateNames = map[parserState]string{
	awaitStart: "AwaitStart",
	collecting: "Collecting",
	awaitEnd1:  "AwaitEnd1",
	awaitEnd2:  "AwaitEnd2",
}

func (s parserState) String() string {
	return parserStateNames[s]
}

// Parser reassembles frames from a byte stream, one byte at a time.
//
// A candidate frame that is not followed by both end markers is discarded and the Parser returns
// to searching for a start marker. The byte that broke the frame is not re-examined, so a partial
// frame can never leak into the payload of the next one.
//
// The zero value is ready to use.
type Parser struct {
	state   parserState
	length  int
	payload []byte

	frames    int
	discarded int
	skipped   int
}

// Parse consumes b as part of a frame whose payload is length bytes long. It returns a copy of
// the payload and true once the final end marker of a well-formed frame is consumed.
//
// The length is latched when the start marker is seen. Lengths outside [0, MaxCipherTextLength]
// are never satisfied.
func (p *Parser) Parse(b byte, length int) ([]byte, bool) {
	switch p.state {
	case awaitStart:
		if b != StartMarker || length < 0 || length > MaxCipherTextLength {
			p.skipped++
			return nil, false
		}
		p.length = length
		p.payload = p.payload[:0]
		if length == 0 {
			p.state = awaitEnd1
		} else {
			p.state = collecting
		}
	case collecting:
		p.payload = append(p.payload, b)
		if len(p.payload) == p.length {
			p.state = awaitEnd1
		}
	case awaitEnd1:
		if b == EndMarker1 {
			p.state = awaitEnd2
		} else {
			p.discard()
		}
	case awaitEnd2:
		if b != EndMarker2 {
			p.discard()
			return nil, false
		}
		p.state = awaitStart
		p.frames++
		return append([]byte(nil), p.payload...), true
	}
	return nil, false
}

func (p *Parser) discard() {
	p.state = awaitStart
	p.payload = p.payload[:0]
	p.discarded++
}

// Reset abandons any partially parsed frame.
func (p *Parser) Reset() {
	p.state = awaitStart
	p.payload = p.payload[:0]
}

// Idle returns true if the Parser is not in the middle of a frame.
func (p *Parser) Idle() bool {
	return p.state == awaitStart
}

func (p *Parser) String() string {
	return p.state.String()
}

// Frames returns the number of complete frames recognized.
func (p *Parser) Frames() int {
	return p.frames
}

// Discarded returns the number of candidate frames dropped because an end marker did not match.
func (p *Parser) Discarded() int {
	return p.discarded
}

// Skipped returns the number of bytes ignored while searching for a start marker.
func (p *Parser) Skipped() int {
	return p.skipped
}

type ackState int

const (
	ackAwaitStart ackState = iota
	ackAwaitByte1
	ackAwaitByte2
)

// AckParser recognizes acknowledgement frames in a byte stream. The zero value is ready to use.
type AckParser struct {
	state     ackState
	acks      int
	discarded int
}

// Parse consumes b and returns true when it completes an acknowledgement frame.
func (a *AckParser) Parse(b byte) bool {
	switch a.state {
	case ackAwaitStart:
		if b == StartMarker {
			a.state = ackAwaitByte1
		}
	case ackAwaitByte1:
		if b == AckByte1 {
			a.state = ackAwaitByte2
		} else {
			a.state = ackAwaitStart
			a.discarded++
		}
	case ackAwaitByte2:
		a.state = ackAwaitStart
		if b == AckByte2 {
			a.acks++
			return true
		}
		a.discarded++
	}
	return false
}

func (a *AckParser) Reset() {
	a.state = ackAwaitStart
}

// Acks returns the number of acknowledgements recognized.
func (a *AckParser) Acks() int {
	return a.acks
}

// Discarded returns the number of candidate acknowledgements that did not match.
func (a *AckParser) Discarded() int {
	return a.discarded
}
