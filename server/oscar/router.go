package oscar

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Artemchik-Development/node-icq-server/foodgroup"
	"github.com/Artemchik-Development/node-icq-server/state"
	"github.com/Artemchik-Development/node-icq-server/wire"
)

// HandlerFunc processes one inbound command on an established BOS session.
type HandlerFunc func(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw foodgroup.ResponseWriter) error

type snacKey struct {
	foodGroup uint16
	subGroup  uint16
}

// Router dispatches commands by (food group, subgroup). The table is closed
// at construction; unknown combinations are logged and ignored so newer
// clients keep working. A panicking handler is contained here and never tears
// the connection down.
type Router struct {
	routes map[snacKey]HandlerFunc
	logger *slog.Logger
}

// NewRouter creates an empty dispatch table.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		routes: make(map[snacKey]HandlerFunc),
		logger: logger,
	}
}

// Register installs a handler for one (food group, subgroup) pair.
func (r *Router) Register(foodGroup, subGroup uint16, h HandlerFunc) {
	r.routes[snacKey{foodGroup: foodGroup, subGroup: subGroup}] = h
}

// Route dispatches one inbound command.
func (r *Router) Route(ctx context.Context, sess *state.Session, inFrame wire.SNACFrame, body []byte, rw foodgroup.ResponseWriter) {
	h, ok := r.routes[snacKey{foodGroup: inFrame.FoodGroup, subGroup: inFrame.SubGroup}]
	if !ok {
		r.logger.DebugContext(ctx, "ignoring unknown command",
			"foodgroup", wire.FoodGroupName(inFrame.FoodGroup),
			"subgroup", fmt.Sprintf("%#04x", inFrame.SubGroup))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "handler panic",
				"foodgroup", wire.FoodGroupName(inFrame.FoodGroup),
				"subgroup", fmt.Sprintf("%#04x", inFrame.SubGroup),
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()

	if err := h(ctx, sess, inFrame, body, rw); err != nil {
		r.logger.ErrorContext(ctx, "handler error",
			"foodgroup", wire.FoodGroupName(inFrame.FoodGroup),
			"subgroup", fmt.Sprintf("%#04x", inFrame.SubGroup),
			"err", err.Error())
	}
}
