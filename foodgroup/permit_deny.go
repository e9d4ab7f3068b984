package foodgroup

import (
	"context"

	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// PermitDenyService handles the privacy food group (0x09). Only the rights
// query is served; no actual visibility filtering is applied.
type PermitDenyService struct{}

// NewPermitDenyService creates a privacy handler.
func NewPermitDenyService() *PermitDenyService {
	return &PermitDenyService{}
}

// RightsQuery returns the static permit/deny list limits.
func (s PermitDenyService) RightsQuery(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw ResponseWriter) error {
	reply := wire.TLVList{
		wire.NewTLVUint16(0x0001, 200), // max permit entries
		wire.NewTLVUint16(0x0002, 200), // max deny entries
	}
	return rw.SendSNAC(wire.SNACFrame{
		FoodGroup: wire.PermitDeny,
		SubGroup:  wire.PermitDenyRightsReply,
		RequestID: inFrame.RequestID,
	}, reply.Marshal())
}
