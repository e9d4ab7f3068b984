package oscar

import (
	"log/slog"

	"github.com/Artemchik-Development/node-icq-server/foodgroup"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// BOSRouter builds the dispatch table for an established session.
func BOSRouter(
	logger *slog.Logger,
	oservice *foodgroup.OServiceService,
	locate *foodgroup.LocateService,
	buddy *foodgroup.BuddyService,
	icbm *foodgroup.ICBMService,
	permitDeny *foodgroup.PermitDenyService,
	feedbag *foodgroup.FeedbagService,
	icq *foodgroup.ICQService,
) *Router {
	r := NewRouter(logger)

	r.Register(wire.OService, wire.OServiceClientOnline, oservice.ClientOnline)
	r.Register(wire.OService, wire.OServiceServiceRequest, oservice.ServiceRequest)
	r.Register(wire.OService, wire.OServiceRateParamsQuery, oservice.RateParamsQuery)
	r.Register(wire.OService, wire.OServiceRateParamsSubAdd, oservice.RateParamsSubAdd)
	r.Register(wire.OService, wire.OServiceSetStatus, oservice.SetStatus)
	r.Register(wire.OService, wire.OServiceIdleNotification, oservice.IdleNotification)
	r.Register(wire.OService, wire.OServiceClientVersions, oservice.ClientVersions)
	r.Register(wire.OService, wire.OServiceSetExtendedStatus, oservice.SetExtendedStatus)

	r.Register(wire.Locate, wire.LocateRightsQuery, locate.RightsQuery)
	r.Register(wire.Locate, wire.LocateSetInfo, locate.SetInfo)
	r.Register(wire.Locate, wire.LocateUserInfoQuery, locate.UserInfoQuery)

	r.Register(wire.Buddy, wire.BuddyRightsQuery, buddy.RightsQuery)
	r.Register(wire.Buddy, wire.BuddyAddBuddies, buddy.AddBuddies)
	r.Register(wire.Buddy, wire.BuddyDelBuddies, buddy.DelBuddies)

	r.Register(wire.ICBM, wire.ICBMAddParameters, icbm.AddParameters)
	r.Register(wire.ICBM, wire.ICBMParameterQuery, icbm.ParameterQuery)
	r.Register(wire.ICBM, wire.ICBMChannelMsgToHost, icbm.ChannelMsgToHost)

	r.Register(wire.PermitDeny, wire.PermitDenyRightsQuery, permitDeny.RightsQuery)

	r.Register(wire.Feedbag, wire.FeedbagRightsQuery, feedbag.RightsQuery)
	r.Register(wire.Feedbag, wire.FeedbagQuery, feedbag.Query)
	r.Register(wire.Feedbag, wire.FeedbagQueryIfModified, feedbag.QueryIfModified)
	r.Register(wire.Feedbag, wire.FeedbagUse, feedbag.Use)
	r.Register(wire.Feedbag, wire.FeedbagInsertItem, feedbag.InsertItem)
	r.Register(wire.Feedbag, wire.FeedbagUpdateItem, feedbag.UpdateItem)
	r.Register(wire.Feedbag, wire.FeedbagDeleteItem, feedbag.DeleteItem)
	r.Register(wire.Feedbag, wire.FeedbagStartCluster, feedbag.StartCluster)
	r.Register(wire.Feedbag, wire.FeedbagEndCluster, feedbag.EndCluster)

	r.Register(wire.ICQ, wire.ICQDBQuery, icq.DBQuery)

	return r
}
