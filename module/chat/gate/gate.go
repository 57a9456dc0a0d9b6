package gate

import (
	"context"

	"fellowchat/module/chat/model"
	"fellowchat/tools/errs"
)

// RelationshipOracle answers follow relationships. It is consulted exactly
// once per conversation, at creation time; later follow changes do not
// reopen the request phase.
type RelationshipOracle interface {
	MutuallyFollow(ctx context.Context, userA, userB string) (bool, error)
}

// Event is a named transition on the conversation lifecycle machine.
// Implicit accept-by-reply and explicit accept are distinct events so each
// can be exercised independently.
type Event int

const (
	EventExplicitAccept Event = iota + 1
	EventExplicitDecline
	EventRecipientReply
)

func (e Event) String() string {
	switch e {
	case EventExplicitAccept:
		return "explicit_accept"
	case EventExplicitDecline:
		return "explicit_decline"
	case EventRecipientReply:
		return "recipient_reply"
	}
	return "unknown"
}

// Next is the pure transition function (state, event) → state. Terminal
// states never move again; the caller decides who may fire which event.
func Next(status string, ev Event) (string, error) {
	if status != model.StatusPending {
		return status, errs.ErrAccessDenied.WithDetail("conversation is " + status)
	}
	switch ev {
	case EventExplicitAccept, EventRecipientReply:
		return model.StatusAccepted, nil
	case EventExplicitDecline:
		return model.StatusDeclined, nil
	}
	return status, errs.New("unknown gate event %d", ev)
}

// InitialStatus: mutual-follow pairs skip the request phase entirely.
func InitialStatus(mutual bool) string {
	if mutual {
		return model.StatusAccepted
	}
	return model.StatusPending
}

// pendingSendCap: a non-mutual requester may send exactly this many messages
// before the recipient responds. The cap bounds unsolicited contact and is
// the core anti-spam mechanism; it must be checked and counted inside the
// same per-conversation critical section as the append.
const pendingSendCap = 1

const (
	ReasonDeclined = "conversation declined"
	ReasonAwaiting = "awaiting recipient response"
)

// Decision is the outcome of a send check. Transition, when non-zero, names
// the lifecycle event the caller must fire together with the append
// (implicit accept-by-reply).
type Decision struct {
	Allowed    bool
	Reason     string
	Transition Event
}

// CanSend decides whether senderID may append to conv right now. A nil conv
// means the creation path will run; that is always allowed here.
func CanSend(conv *model.Conversation, senderID string) Decision {
	if conv == nil {
		return Decision{Allowed: true}
	}
	if !conv.HasParticipant(senderID) {
		return Decision{Reason: "not a participant"}
	}
	switch conv.Status {
	case model.StatusAccepted:
		return Decision{Allowed: true}
	case model.StatusDeclined:
		return Decision{Reason: ReasonDeclined}
	case model.StatusPending:
		if senderID != conv.RequesterID {
			// Recipient replying: allowed, and the reply accepts.
			return Decision{Allowed: true, Transition: EventRecipientReply}
		}
		if conv.MessageCounts[senderID] < pendingSendCap {
			return Decision{Allowed: true}
		}
		return Decision{Reason: ReasonAwaiting}
	}
	return Decision{Reason: "unknown conversation status"}
}

// CanTransition checks who may fire an explicit lifecycle event: only the
// non-requesting participant accepts or declines a request.
func CanTransition(conv *model.Conversation, actorID string, ev Event) error {
	if !conv.HasParticipant(actorID) {
		return errs.ErrAccessDenied.WithDetail("not a participant")
	}
	if ev == EventExplicitAccept || ev == EventExplicitDecline {
		if actorID == conv.RequesterID {
			return errs.ErrAccessDenied.WithDetail("requester cannot accept or decline own request")
		}
	}
	return nil
}
