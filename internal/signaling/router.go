package signaling

import (
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/registry"
)

// Registry is the subset of *registry.Registry the router needs.
type Registry interface {
	Lookup(id string) (registry.Conn, bool)
	Snapshot() []registry.Entry
	UnregisterConn(id string, conn registry.Conn) bool
}

type Outcome int

const (
	OutcomeDelivered Outcome = iota + 1
	OutcomeTargetNotFound
	OutcomeTargetUnreachable
	OutcomeBroadcast
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeTargetNotFound:
		return "target_not_found"
	case OutcomeTargetUnreachable:
		return "target_unreachable"
	case OutcomeBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Result describes what one Dispatch call did. It is informational only; the
// sender is never told about failures.
type Result struct {
	Outcome Outcome
	Target  string

	// Broadcast only.
	Delivered int
	Failed    int
}

type RouterConfig struct {
	Registry Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// KeepOnBroadcastFailure leaves recipients whose broadcast send failed in the
	// registry, relying on their own receive loop to notice the disconnect.
	// By default they are evicted just like an unreachable target.
	KeepOnBroadcastFailure bool
}

// Router decides the recipients of a message and attempts delivery.
type Router struct {
	reg     Registry
	log     *slog.Logger
	metrics *metrics.Metrics

	keepOnBroadcastFailure bool
}

func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		reg:                    cfg.Registry,
		log:                    logger,
		metrics:                cfg.Metrics,
		keepOnBroadcastFailure: cfg.KeepOnBroadcastFailure,
	}
}

// Dispatch stamps msg with senderID and delivers it.
//
// A targeted message goes to its target only; a failed send evicts the target
// from the registry. An untargeted message is sent verbatim (the bytes as
// received) to every registered client except the sender, unless it carries a
// sender field of its own; that one is re-encoded with the stamped sender.
func (r *Router) Dispatch(msg *Message, senderID string) Result {
	msg.SetSender(senderID)

	target, ok := msg.Target()
	if !ok {
		return r.broadcast(msg, senderID)
	}

	res := Result{Target: target}
	conn, ok := r.reg.Lookup(target)
	if !ok {
		r.metrics.Inc(metrics.TargetNotFound)
		r.log.Debug("signaling target not found", "client_id", senderID, "target", target, "type", msg.Type())
		res.Outcome = OutcomeTargetNotFound
		return res
	}

	data, err := msg.Encode()
	if err != nil {
		// Unreachable for messages produced by ParseMessage.
		r.log.Error("failed to encode signaling message", "client_id", senderID, "err", err)
		res.Outcome = OutcomeTargetUnreachable
		return res
	}

	if err := conn.Send(data); err != nil {
		r.metrics.Inc(metrics.DeliveryFailure)
		r.log.Warn("signaling delivery failed; evicting target", "client_id", senderID, "target", target, "err", err)
		r.evict(target, conn)
		res.Outcome = OutcomeTargetUnreachable
		return res
	}

	r.metrics.Inc(metrics.Delivered)
	res.Outcome = OutcomeDelivered
	return res
}

func (r *Router) broadcast(msg *Message, senderID string) Result {
	res := Result{Outcome: OutcomeBroadcast}
	raw := msg.Raw()
	if msg.HasClientSender() {
		data, err := msg.Encode()
		if err != nil {
			r.log.Error("failed to encode signaling message", "client_id", senderID, "err", err)
			return res
		}
		raw = data
	}

	for _, e := range r.reg.Snapshot() {
		if e.ID == senderID {
			continue
		}
		if err := e.Conn.Send(raw); err != nil {
			res.Failed++
			r.log.Warn("signaling broadcast delivery failed", "client_id", senderID, "target", e.ID, "err", err)
			if !r.keepOnBroadcastFailure {
				r.evict(e.ID, e.Conn)
			}
			continue
		}
		res.Delivered++
	}

	r.metrics.Add(metrics.BroadcastDelivered, res.Delivered)
	r.metrics.Add(metrics.BroadcastDeliveryFailure, res.Failed)
	return res
}

// evict removes a dead connection and closes it so its receive loop exits. If
// the id was re-registered meanwhile, the newer entry is left alone.
func (r *Router) evict(id string, conn registry.Conn) {
	if r.reg.UnregisterConn(id, conn) {
		_ = conn.Close()
	}
}
