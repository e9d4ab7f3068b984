package wire

import "encoding/binary"

// Feedbag item classes.
const (
	FeedbagClassIDBuddy  uint16 = 0x0000
	FeedbagClassIDGroup  uint16 = 0x0001
	FeedbagClassIDPermit uint16 = 0x0002
	FeedbagClassIDDeny   uint16 = 0x0003
	FeedbagClassIDPDMode uint16 = 0x0004
)

// FeedbagItem is one server-side roster entry. Attributes is the raw TLV blob
// the client stored; the host persists and echoes it without interpretation.
type FeedbagItem struct {
	Name       string
	GroupID    uint16
	ItemID     uint16
	ClassID    uint16
	Attributes []byte
}

// Marshal encodes the item in roster wire form.
func (i FeedbagItem) Marshal() []byte {
	b := &Builder{}
	b.Uint16(uint16(len(i.Name)))
	b.String(i.Name)
	b.Uint16(i.GroupID)
	b.Uint16(i.ItemID)
	b.Uint16(i.ClassID)
	b.Uint16(uint16(len(i.Attributes)))
	b.Bytes(i.Attributes)
	return b.Build()
}

// UnmarshalFeedbagItems parses a packed sequence of roster items permissively:
// a truncated trailing item stops the parse, keeping everything decoded so
// far.
func UnmarshalFeedbagItems(b []byte) []FeedbagItem {
	var items []FeedbagItem
	pos := 0
	for pos+2 <= len(b) {
		nameLen := int(binary.BigEndian.Uint16(b[pos : pos+2]))
		pos += 2
		if pos+nameLen+8 > len(b) {
			break
		}
		item := FeedbagItem{Name: string(b[pos : pos+nameLen])}
		pos += nameLen
		item.GroupID = binary.BigEndian.Uint16(b[pos : pos+2])
		item.ItemID = binary.BigEndian.Uint16(b[pos+2 : pos+4])
		item.ClassID = binary.BigEndian.Uint16(b[pos+4 : pos+6])
		attrLen := int(binary.BigEndian.Uint16(b[pos+6 : pos+8]))
		pos += 8
		if pos+attrLen > len(b) {
			break
		}
		item.Attributes = append([]byte(nil), b[pos:pos+attrLen]...)
		pos += attrLen
		items = append(items, item)
	}
	return items
}
