package composer

import (
	"context"
	"errors"
	"strings"
	"time"

	"fellowchat/logger"
	"fellowchat/module/chat/gate"
	"fellowchat/module/chat/mention"
	"fellowchat/module/chat/model"
	"fellowchat/module/chat/seq"
	"fellowchat/module/chat/store"
	"fellowchat/tools/errs"
	"fellowchat/tools/ids"
	"fellowchat/tools/safe"
)

// Publisher receives committed-order events for fan-out. Publish must not
// block: the composer calls it while holding the conversation lock.
type Publisher interface {
	Publish(ev model.Event)
}

// Notifier delivers out-of-band notifications (push, badge) to users with
// no live connection. Fire and forget.
type Notifier interface {
	Notify(ctx context.Context, userID, kind string, payload map[string]any)
}

// Presence answers whether a user currently holds at least one live
// connection on any gateway node.
type Presence interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

const (
	maxContentLen   = 8192
	insertRetries   = 2
	previewTimeout  = 10 * time.Second
	previewMaxLinks = 4
)

// Composer orchestrates the send pipeline: resolve conversation, gate
// check, idempotency, seq allocation, durable append, lifecycle
// transition, event publish. All mutations of one conversation run under
// its keyed lock so gate decisions and pending counts never race.
type Composer struct {
	db       store.DB
	seq      seq.Allocator
	oracle   gate.RelationshipOracle
	lookup   mention.UserLookup
	previews *mention.PreviewResolver
	pub      Publisher
	notifier Notifier
	presence Presence
	locks    *convLocks

	origin string // gateway node id stamped on published events
}

type Options struct {
	DB       store.DB
	Seq      seq.Allocator
	Oracle   gate.RelationshipOracle
	Lookup   mention.UserLookup   // optional, mentions resolve against participants only when nil
	Previews *mention.PreviewResolver // optional, link previews disabled when nil
	Pub      Publisher
	Notifier Notifier // optional
	Presence Presence // optional, all recipients treated as offline when nil
	Origin   string
}

func New(opts Options) *Composer {
	return &Composer{
		db:       opts.DB,
		seq:      opts.Seq,
		oracle:   opts.Oracle,
		lookup:   opts.Lookup,
		previews: opts.Previews,
		pub:      opts.Pub,
		notifier: opts.Notifier,
		presence: opts.Presence,
		locks:    newConvLocks(),
		origin:   opts.Origin,
	}
}

// SendInput is one send attempt. ConversationID may be empty when
// ParticipantIDs are given: the conversation is then resolved (or created)
// from the participant set, which is the first-contact path.
type SendInput struct {
	ConversationID string
	ParticipantIDs []string // including the sender, required when ConversationID is empty
	SenderID       string
	Content        string
	ClientMsgID    string
	BurnDuration   int32 // seconds, only honored on the creation path
}

// Send runs the full pipeline and returns the committed message. Retrying
// with the same ClientMsgID returns the already committed message instead
// of appending twice.
func (c *Composer) Send(ctx context.Context, in SendInput) (*model.Message, error) {
	if in.SenderID == "" {
		return nil, errs.ErrInvalidArgument.WithDetail("sender id required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, errs.ErrInvalidArgument.WithDetail("content empty")
	}
	if len(in.Content) > maxContentLen {
		return nil, errs.ErrInvalidArgument.WithDetail("content too long")
	}

	convID := in.ConversationID
	if convID == "" {
		var err error
		convID, err = c.resolveConversationID(in)
		if err != nil {
			return nil, err
		}
	}

	unlock := c.locks.Lock(convID)
	defer unlock()

	conv, err := c.db.GetConversation(ctx, convID)
	switch {
	case errors.Is(err, store.ErrConvNotFound):
		if len(in.ParticipantIDs) == 0 {
			return nil, errs.ErrNotFound.WithDetail("conversation " + convID)
		}
		conv, err = c.createConversation(ctx, convID, in)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, errs.ErrTransientStore.WithDetail(err.Error())
	}

	if !conv.HasParticipant(in.SenderID) {
		return nil, errs.ErrAccessDenied.WithDetail("not a participant")
	}

	// 幂等优先于限流：pending 限流计的是已提交的那条消息本身，
	// 重试同一 client_msg_id 必须在 gate 之前命中，否则重试者会被
	// 自己那条消息挡回 AccessDenied
	if in.ClientMsgID != "" {
		if prev, err := c.db.FindByClientMsgID(ctx, convID, in.SenderID, in.ClientMsgID); err == nil {
			return prev, nil
		}
	}

	decision := gate.CanSend(conv, in.SenderID)
	if !decision.Allowed {
		return nil, errs.ErrAccessDenied.WithDetail(decision.Reason)
	}

	next, err := c.seq.Next(ctx, convID)
	if err != nil {
		return nil, errs.ErrTransientStore.WithDetail("seq allocation: " + err.Error())
	}

	now := time.Now().UnixMilli()
	msg := &model.Message{
		ServerMsgID:    ids.GenerateString(),
		ClientMsgID:    in.ClientMsgID,
		ConversationID: convID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Seq:            next,
		State:          model.MsgStateSent,
		CreatedAt:      now,
	}
	if conv.BurnDuration > 0 {
		msg.ExpiresAt = now + int64(conv.BurnDuration)*1000
	}
	msg.MentionedUserIDs = mention.Resolve(ctx, in.Content, conv.ParticipantIDs, c.lookup)

	countPending := conv.Status == model.StatusPending
	if err := c.insertWithRetry(ctx, msg, countPending); err != nil {
		if errors.Is(err, store.ErrUniqueClientMsgID) {
			// 与并发重试撞上，取胜者返回
			if prev, ferr := c.db.FindByClientMsgID(ctx, convID, in.SenderID, in.ClientMsgID); ferr == nil {
				return prev, nil
			}
		}
		return nil, errs.ErrTransientStore.WithDetail("append: " + err.Error())
	}

	status := conv.Status
	if decision.Transition != 0 {
		if nextStatus, terr := gate.Next(conv.Status, decision.Transition); terr == nil {
			if uerr := c.db.UpdateStatus(ctx, convID, nextStatus); uerr == nil {
				status = nextStatus
			} else {
				logger.Warnf("implicit accept on %s failed: %v", convID, uerr)
			}
		}
	}

	// 仍持有会话锁：按提交顺序发布，订阅端看到的顺序与落库一致
	c.publish(model.Event{
		Kind:           model.EventMessageNew,
		ConversationID: convID,
		ParticipantIDs: conv.ParticipantIDs,
		Seq:            msg.Seq,
		At:             now,
		Payload:        msg,
	})
	if status != conv.Status {
		c.publish(model.Event{
			Kind:           model.EventConversationStatus,
			ConversationID: convID,
			ParticipantIDs: conv.ParticipantIDs,
			At:             now,
			Payload:        model.ConversationStatusPayload{Status: status},
		})
	}

	c.schedulePreviews(msg, conv.ParticipantIDs)
	c.notifyOffline(conv, msg)
	return msg, nil
}

func (c *Composer) resolveConversationID(in SendInput) (string, error) {
	if !containsString(in.ParticipantIDs, in.SenderID) {
		return "", errs.ErrInvalidArgument.WithDetail("participants must include sender")
	}
	switch {
	case len(in.ParticipantIDs) == 2:
		return model.P2PConversationID(in.ParticipantIDs[0], in.ParticipantIDs[1]), nil
	case len(in.ParticipantIDs) > 2:
		return model.GroupConversationID(), nil
	}
	return "", errs.ErrInvalidArgument.WithDetail("conversation id or participants required")
}

// createConversation runs the first-contact path: the relationship oracle
// is consulted exactly once, here. Losers of a concurrent creation race
// adopt the winner's conversation.
func (c *Composer) createConversation(ctx context.Context, convID string, in SendInput) (*model.Conversation, error) {
	status := model.StatusAccepted
	if len(in.ParticipantIDs) == 2 {
		other := in.ParticipantIDs[0]
		if other == in.SenderID {
			other = in.ParticipantIDs[1]
		}
		mutual, err := c.oracle.MutuallyFollow(ctx, in.SenderID, other)
		if err != nil {
			// 社交图不可用时保守降级为请求态，不放行
			logger.Warnf("relationship lookup %s/%s failed: %v", in.SenderID, other, err)
			mutual = false
		}
		status = gate.InitialStatus(mutual)
	}
	conv := model.NewConversation(convID, in.ParticipantIDs, in.SenderID, status, in.BurnDuration)
	out, _, err := c.db.GetOrCreateConversation(ctx, conv)
	if err != nil {
		return nil, errs.ErrTransientStore.WithDetail(err.Error())
	}
	return out, nil
}

func (c *Composer) insertWithRetry(ctx context.Context, msg *model.Message, countPending bool) error {
	var err error
	for attempt := 0; attempt <= insertRetries; attempt++ {
		err = c.db.InsertMessage(ctx, msg, countPending)
		if err == nil ||
			errors.Is(err, store.ErrUniqueClientMsgID) ||
			errors.Is(err, store.ErrUniqueSeq) ||
			errors.Is(err, store.ErrConvNotFound) {
			return err
		}
		logger.Warnf("append %s attempt %d: %v", msg.ConversationID, attempt, err)
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	// 重试耗尽：该消息从未落库，对客户端表现为 failed
	msg.State = model.MsgStateFailed
	return err
}

// GetOrCreate resolves (or creates) the conversation for a participant
// set without sending anything.
func (c *Composer) GetOrCreate(ctx context.Context, requesterID string, participantIDs []string, burnDuration int32) (*model.Conversation, error) {
	if requesterID == "" || len(participantIDs) < 2 {
		return nil, errs.ErrInvalidArgument.WithDetail("requester and at least two participants required")
	}
	in := SendInput{SenderID: requesterID, ParticipantIDs: participantIDs, BurnDuration: burnDuration}
	convID, err := c.resolveConversationID(in)
	if err != nil {
		return nil, err
	}
	unlock := c.locks.Lock(convID)
	defer unlock()

	conv, err := c.db.GetConversation(ctx, convID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrConvNotFound) {
		return nil, errs.ErrTransientStore.WithDetail(err.Error())
	}
	return c.createConversation(ctx, convID, in)
}

// Accept moves a pending request to accepted. Idempotent for an actor
// re-accepting an already accepted conversation.
func (c *Composer) Accept(ctx context.Context, convID, actorID string) error {
	return c.transition(ctx, convID, actorID, gate.EventExplicitAccept, model.StatusAccepted)
}

// Decline moves a pending request to declined, a terminal state.
func (c *Composer) Decline(ctx context.Context, convID, actorID string) error {
	return c.transition(ctx, convID, actorID, gate.EventExplicitDecline, model.StatusDeclined)
}

func (c *Composer) transition(ctx context.Context, convID, actorID string, ev gate.Event, want string) error {
	unlock := c.locks.Lock(convID)
	defer unlock()

	conv, err := c.db.GetConversation(ctx, convID)
	if err != nil {
		if errors.Is(err, store.ErrConvNotFound) {
			return errs.ErrNotFound.WithDetail("conversation " + convID)
		}
		return errs.ErrTransientStore.WithDetail(err.Error())
	}
	if err := gate.CanTransition(conv, actorID, ev); err != nil {
		return err
	}
	if conv.Status == want {
		return nil // 重复确认视为成功
	}
	next, err := gate.Next(conv.Status, ev)
	if err != nil {
		return err
	}
	if err := c.db.UpdateStatus(ctx, convID, next); err != nil {
		if errors.Is(err, store.ErrStatusTerminal) {
			return errs.ErrAccessDenied.WithDetail("conversation is " + conv.Status)
		}
		return errs.ErrTransientStore.WithDetail(err.Error())
	}
	c.publish(model.Event{
		Kind:           model.EventConversationStatus,
		ConversationID: convID,
		ParticipantIDs: conv.ParticipantIDs,
		At:             time.Now().UnixMilli(),
		Payload:        model.ConversationStatusPayload{Status: next},
	})
	return nil
}

// MarkDelivered records that the recipient's client fetched one message.
func (c *Composer) MarkDelivered(ctx context.Context, convID, serverMsgID, actorID string) error {
	unlock := c.locks.Lock(convID)
	defer unlock()

	conv, err := c.loadForParticipant(ctx, convID, actorID)
	if err != nil {
		return err
	}
	msg, err := c.db.GetMessage(ctx, convID, serverMsgID)
	if err != nil {
		if errors.Is(err, store.ErrMsgNotFound) {
			return errs.ErrNotFound.WithDetail("message " + serverMsgID)
		}
		return errs.ErrTransientStore.WithDetail(err.Error())
	}
	if msg.SenderID == actorID {
		return errs.ErrInvalidArgument.WithDetail("sender cannot deliver own message")
	}
	updated, err := c.db.MarkDelivered(ctx, convID, serverMsgID)
	if err != nil {
		return errs.ErrTransientStore.WithDetail(err.Error())
	}
	if !updated {
		return nil // 已 delivered/read，保持单调
	}
	c.publish(model.Event{
		Kind:           model.EventMessageState,
		ConversationID: convID,
		ParticipantIDs: conv.ParticipantIDs,
		Seq:            msg.Seq,
		At:             time.Now().UnixMilli(),
		Payload:        model.MessageStatePayload{ServerMsgID: serverMsgID, State: model.MsgStateDelivered},
	})
	return nil
}

// MarkRead marks everything the reader has not sent as read and resets
// their unread count. The peer learns about it via conversation.read.
func (c *Composer) MarkRead(ctx context.Context, convID, readerID string) (int64, error) {
	unlock := c.locks.Lock(convID)
	defer unlock()

	conv, err := c.loadForParticipant(ctx, convID, readerID)
	if err != nil {
		return 0, err
	}
	upTo, err := c.db.MarkRead(ctx, convID, readerID)
	if err != nil {
		return 0, errs.ErrTransientStore.WithDetail(err.Error())
	}
	c.publish(model.Event{
		Kind:           model.EventConversationRead,
		ConversationID: convID,
		ParticipantIDs: conv.ParticipantIDs,
		Seq:            upTo,
		At:             time.Now().UnixMilli(),
		Payload:        model.ConversationReadPayload{ReaderID: readerID, UpToSeq: upTo},
	})
	return upTo, nil
}

// DeleteMessage tombstones a message for everyone. Only the sender may
// delete; re-deleting a tombstone succeeds without a second event.
func (c *Composer) DeleteMessage(ctx context.Context, convID, serverMsgID, actorID string) error {
	unlock := c.locks.Lock(convID)
	defer unlock()

	conv, err := c.loadForParticipant(ctx, convID, actorID)
	if err != nil {
		return err
	}
	msg, err := c.db.GetMessage(ctx, convID, serverMsgID)
	if err != nil {
		if errors.Is(err, store.ErrMsgNotFound) {
			return errs.ErrNotFound.WithDetail("message " + serverMsgID)
		}
		return errs.ErrTransientStore.WithDetail(err.Error())
	}
	if msg.SenderID != actorID {
		return errs.ErrAccessDenied.WithDetail("only the sender may delete a message")
	}
	deleted, err := c.db.Tombstone(ctx, convID, serverMsgID)
	if err != nil {
		return errs.ErrTransientStore.WithDetail(err.Error())
	}
	if !deleted {
		return nil // 已是墓碑（手动删除与定时清理相遇）
	}
	c.publish(model.Event{
		Kind:           model.EventMessageDeleted,
		ConversationID: convID,
		ParticipantIDs: conv.ParticipantIDs,
		Seq:            msg.Seq,
		At:             time.Now().UnixMilli(),
		Payload:        model.MessageDeletedPayload{ServerMsgID: serverMsgID, Seq: msg.Seq},
	})
	return nil
}

// List returns the user's conversations partitioned for the inbox UI.
func (c *Composer) List(ctx context.Context, userID string) (store.Partitioned, error) {
	if userID == "" {
		return store.Partitioned{}, errs.ErrInvalidArgument.WithDetail("user id required")
	}
	convs, err := c.db.ListConversations(ctx, userID)
	if err != nil {
		return store.Partitioned{}, errs.ErrTransientStore.WithDetail(err.Error())
	}
	return store.Partition(convs, userID), nil
}

// History pages messages after a seq cursor, oldest first.
func (c *Composer) History(ctx context.Context, convID, userID string, afterSeq int64, limit int) ([]*model.Message, error) {
	if _, err := c.loadForParticipant(ctx, convID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	msgs, err := c.db.ListMessages(ctx, convID, afterSeq, limit)
	if err != nil {
		return nil, errs.ErrTransientStore.WithDetail(err.Error())
	}
	return msgs, nil
}

// Conversation loads one conversation for a participant.
func (c *Composer) Conversation(ctx context.Context, convID, userID string) (*model.Conversation, error) {
	return c.loadForParticipant(ctx, convID, userID)
}

func (c *Composer) loadForParticipant(ctx context.Context, convID, userID string) (*model.Conversation, error) {
	conv, err := c.db.GetConversation(ctx, convID)
	if err != nil {
		if errors.Is(err, store.ErrConvNotFound) {
			return nil, errs.ErrNotFound.WithDetail("conversation " + convID)
		}
		return nil, errs.ErrTransientStore.WithDetail(err.Error())
	}
	if !conv.HasParticipant(userID) {
		return nil, errs.ErrAccessDenied.WithDetail("not a participant")
	}
	return conv, nil
}

func (c *Composer) publish(ev model.Event) {
	if c.pub == nil {
		return
	}
	ev.Origin = c.origin
	c.pub.Publish(ev)
}

// schedulePreviews resolves link previews off the send path and patches
// the stored message when at least one resolves.
func (c *Composer) schedulePreviews(msg *model.Message, participants []string) {
	if c.previews == nil {
		return
	}
	urls := mention.URLs(msg.Content)
	if len(urls) == 0 {
		return
	}
	if len(urls) > previewMaxLinks {
		urls = urls[:previewMaxLinks]
	}
	convID, serverMsgID := msg.ConversationID, msg.ServerMsgID
	safe.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), previewTimeout)
		defer cancel()
		previews := c.previews.ResolveAll(ctx, urls)
		if len(previews) == 0 {
			return
		}
		if err := c.db.SetLinkPreviews(ctx, convID, serverMsgID, previews); err != nil {
			logger.Warnf("set previews %s/%s: %v", convID, serverMsgID, err)
			return
		}
		c.publish(model.Event{
			Kind:           model.EventMessagePreview,
			ConversationID: convID,
			ParticipantIDs: participants,
			At:             time.Now().UnixMilli(),
			Payload:        model.MessagePreviewPayload{ServerMsgID: serverMsgID, LinkPreviews: previews},
		})
	})
}

// notifyOffline pushes an out-of-band notification to participants with
// no live connection. Mentioned users get the mention kind so clients can
// escalate.
func (c *Composer) notifyOffline(conv *model.Conversation, msg *model.Message) {
	if c.notifier == nil {
		return
	}
	others := conv.Others(msg.SenderID)
	mentioned := make(map[string]bool, len(msg.MentionedUserIDs))
	for _, id := range msg.MentionedUserIDs {
		mentioned[id] = true
	}
	safe.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, uid := range others {
			if c.presence != nil {
				online, err := c.presence.IsOnline(ctx, uid)
				if err == nil && online {
					continue
				}
			}
			kind := model.EventMessageNew
			if mentioned[uid] {
				kind = "message.mention"
			}
			c.notifier.Notify(ctx, uid, kind, map[string]any{
				"conversation_id": msg.ConversationID,
				"server_msg_id":   msg.ServerMsgID,
				"sender_id":       msg.SenderID,
				"seq":             msg.Seq,
			})
		}
	})
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
