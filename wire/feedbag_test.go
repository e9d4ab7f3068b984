package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedbagItems_RoundTrip(t *testing.T) {
	items := []FeedbagItem{
		{Name: "Friends", GroupID: 1, ItemID: 0, ClassID: FeedbagClassIDGroup, Attributes: []byte{0x00, 0xC8, 0x00, 0x00}},
		{Name: "100500", GroupID: 1, ItemID: 2, ClassID: FeedbagClassIDBuddy},
		{Name: "", GroupID: 0, ItemID: 3, ClassID: FeedbagClassIDPDMode, Attributes: []byte{0x00, 0xCA, 0x00, 0x01, 0x01}},
	}

	b := &Builder{}
	for _, item := range items {
		b.Bytes(item.Marshal())
	}

	got := UnmarshalFeedbagItems(b.Build())
	require.Len(t, got, 3)
	assert.Equal(t, items[0], got[0])
	assert.Equal(t, "100500", got[1].Name)
	assert.Equal(t, FeedbagClassIDBuddy, got[1].ClassID)
	assert.Empty(t, got[1].Attributes)
	assert.Equal(t, items[2].Attributes, got[2].Attributes)
}

func TestUnmarshalFeedbagItems_TruncatedTail(t *testing.T) {
	b := FeedbagItem{Name: "buddy1", GroupID: 1, ItemID: 1, ClassID: FeedbagClassIDBuddy}.Marshal()
	// second item cut off mid-header
	b = append(b, 0x00, 0x06, 'b', 'u', 'd')

	got := UnmarshalFeedbagItems(b)
	require.Len(t, got, 1)
	assert.Equal(t, "buddy1", got[0].Name)
}
