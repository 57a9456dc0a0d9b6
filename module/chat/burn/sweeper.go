package burn

import (
	"context"
	"time"

	"fellowchat/logger"
	"fellowchat/module/chat/model"
	"fellowchat/module/chat/store"
	"fellowchat/tools/safe"
)

// Publisher mirrors the composer's publish side so sweep tombstones reach
// subscribers the same way manual deletes do.
type Publisher interface {
	Publish(ev model.Event)
}

const (
	defaultEvery = 30 * time.Second
	defaultBatch = 256
)

// Sweeper 阅后即焚清理器：周期扫描过期消息并打墓碑。删除与手动删除
// 幂等汇合，同一条消息至多产生一个 message.deleted 事件。
type Sweeper struct {
	db     store.DB
	pub    Publisher
	every  time.Duration
	batch  int
	stopCh chan struct{}
	done   chan struct{}
}

func NewSweeper(db store.DB, pub Publisher, every time.Duration, batch int) *Sweeper {
	if every <= 0 {
		every = defaultEvery
	}
	if batch <= 0 {
		batch = defaultBatch
	}
	return &Sweeper{
		db:     db,
		pub:    pub,
		every:  every,
		batch:  batch,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop.
func (s *Sweeper) Start() {
	safe.Go(func() {
		defer close(s.done)
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				n := s.SweepOnce(context.Background(), time.Now())
				if n > 0 {
					logger.Infof("burn sweep tombstoned %d message(s)", n)
				}
			}
		}
	})
}

// Stop signals the loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.done
}

// SweepOnce tombstones every live message expired as of now and returns
// how many it actually deleted. Messages tombstoned by someone else
// between the scan and the write are skipped without error.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) int {
	nowMS := now.UnixMilli()
	swept := 0
	participants := map[string][]string{} // conv id → participant ids, per-sweep cache
	for {
		expired, err := s.db.ExpiredMessages(ctx, nowMS, s.batch)
		if err != nil {
			logger.Warnf("burn sweep scan: %v", err)
			return swept
		}
		if len(expired) == 0 {
			return swept
		}
		before := swept
		for _, msg := range expired {
			deleted, err := s.db.Tombstone(ctx, msg.ConversationID, msg.ServerMsgID)
			if err != nil {
				logger.Warnf("burn sweep %s/%s: %v", msg.ConversationID, msg.ServerMsgID, err)
				continue
			}
			if !deleted {
				continue // 已被手动删除
			}
			swept++
			if s.pub != nil {
				ps, ok := participants[msg.ConversationID]
				if !ok {
					if conv, err := s.db.GetConversation(ctx, msg.ConversationID); err == nil {
						ps = conv.ParticipantIDs
					}
					participants[msg.ConversationID] = ps
				}
				s.pub.Publish(model.Event{
					Kind:           model.EventMessageDeleted,
					ConversationID: msg.ConversationID,
					ParticipantIDs: ps,
					Seq:            msg.Seq,
					At:             nowMS,
					Payload:        model.MessageDeletedPayload{ServerMsgID: msg.ServerMsgID, Seq: msg.Seq},
				})
			}
		}
		if len(expired) < s.batch || swept == before {
			return swept
		}
	}
}
