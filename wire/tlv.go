package wire

import "encoding/binary"

// TLV is a single type-length-value field.
type TLV struct {
	Tag   uint16
	Value []byte
}

func NewTLVUint8(tag uint16, v uint8) TLV {
	return TLV{Tag: tag, Value: []byte{v}}
}

func NewTLVUint16(tag uint16, v uint16) TLV {
	val := make([]byte, 2)
	binary.BigEndian.PutUint16(val, v)
	return TLV{Tag: tag, Value: val}
}

func NewTLVUint32(tag uint16, v uint32) TLV {
	val := make([]byte, 4)
	binary.BigEndian.PutUint32(val, v)
	return TLV{Tag: tag, Value: val}
}

func NewTLVString(tag uint16, s string) TLV {
	return TLV{Tag: tag, Value: []byte(s)}
}

func NewTLVBytes(tag uint16, b []byte) TLV {
	return TLV{Tag: tag, Value: b}
}

func NewTLVEmpty(tag uint16) TLV {
	return TLV{Tag: tag}
}

// TLVList is an ordered sequence of TLVs. Order is preserved so that
// pass-through attributes relay byte-for-byte in their original positions.
// Lookups honor last-write-wins for duplicate tags.
type TLVList []TLV

// UnmarshalTLVList parses a TLV sequence permissively: a truncated or
// overrunning length field stops the parse, keeping everything decoded so
// far.
func UnmarshalTLVList(b []byte) TLVList {
	var list TLVList
	pos := 0
	for pos+4 <= len(b) {
		tag := binary.BigEndian.Uint16(b[pos : pos+2])
		length := int(binary.BigEndian.Uint16(b[pos+2 : pos+4]))
		pos += 4
		if pos+length > len(b) {
			break
		}
		list = append(list, TLV{Tag: tag, Value: append([]byte(nil), b[pos:pos+length]...)})
		pos += length
	}
	return list
}

// Marshal encodes the list back to wire form.
func (l TLVList) Marshal() []byte {
	b := &Builder{}
	b.TLVList(l)
	return b.Build()
}

// HasTag reports whether the list contains tag.
func (l TLVList) HasTag(tag uint16) bool {
	_, ok := l.Bytes(tag)
	return ok
}

// Bytes returns the value of the last TLV with the given tag.
func (l TLVList) Bytes(tag uint16) ([]byte, bool) {
	var val []byte
	found := false
	for _, t := range l {
		if t.Tag == tag {
			val = t.Value
			found = true
		}
	}
	return val, found
}

// String returns the value of the last TLV with the given tag as text.
func (l TLVList) String(tag uint16) (string, bool) {
	b, ok := l.Bytes(tag)
	return string(b), ok
}

// Uint16BE decodes the first two value bytes of the given tag.
func (l TLVList) Uint16BE(tag uint16) (uint16, bool) {
	b, ok := l.Bytes(tag)
	if !ok || len(b) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(b[0:2]), true
}

// Uint32BE decodes the first four value bytes of the given tag.
func (l TLVList) Uint32BE(tag uint16) (uint32, bool) {
	b, ok := l.Bytes(tag)
	if !ok || len(b) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(b[0:4]), true
}

// Append adds a TLV to the end of the list.
func (l *TLVList) Append(t TLV) {
	*l = append(*l, t)
}

// Replace overwrites the first TLV carrying the same tag, or appends when the
// tag is not present. Keeps the attribute's original position on update.
func (l *TLVList) Replace(t TLV) {
	for i := range *l {
		if (*l)[i].Tag == t.Tag {
			(*l)[i] = t
			return
		}
	}
	*l = append(*l, t)
}

// Delete removes every TLV carrying the given tag.
func (l *TLVList) Delete(tag uint16) {
	out := (*l)[:0]
	for _, t := range *l {
		if t.Tag != tag {
			out = append(out, t)
		}
	}
	*l = out
}

// TLVUserInfo is the presence block describing one user: length-prefixed
// screen name, warning level, and the attribute TLVs.
type TLVUserInfo struct {
	ScreenName   string
	WarningLevel uint16
	TLVList      TLVList
}

// Marshal encodes the presence block, including the attribute count.
func (i TLVUserInfo) Marshal() []byte {
	b := &Builder{}
	b.Uint8(uint8(len(i.ScreenName)))
	b.String(i.ScreenName)
	b.Uint16(i.WarningLevel)
	b.Uint16(uint16(len(i.TLVList)))
	b.TLVList(i.TLVList)
	return b.Build()
}
