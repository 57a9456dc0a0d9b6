package chat

import (
	"encoding/json"

	"fellowchat/logger"
	"fellowchat/module/chat/model"
)

// Mirror forwards serialized events to the other gateway nodes. The natsx
// producer satisfies it; a nil mirror means single-node operation.
type Mirror interface {
	Publish(data []byte) error
}

// SyncEngine is the fan-out hub of one gateway node. Locally produced
// events (composer, sweeper) are pushed to local subscribers and mirrored
// to the cluster; events arriving from the mirror are pushed locally
// only, with the producing node's own echoes dropped by Origin.
type SyncEngine struct {
	origin string
	mgr    *ConnManager
	fanout *Fanout
	mirror Mirror
}

func NewSyncEngine(origin string, mgr *ConnManager, fanout *Fanout, mirror Mirror) *SyncEngine {
	return &SyncEngine{origin: origin, mgr: mgr, fanout: fanout, mirror: mirror}
}

// Publish satisfies composer.Publisher. The caller holds the conversation
// lock, so frames reach the shard queues in commit order; Broadcast never
// blocks past queue admission.
func (e *SyncEngine) Publish(ev model.Event) {
	if ev.Origin == "" {
		ev.Origin = e.origin
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("marshal event %s: %v", ev.Kind, err)
		return
	}
	e.deliverLocal(ev.ParticipantIDs, data)
	if e.mirror != nil {
		if err := e.mirror.Publish(data); err != nil {
			logger.Warnf("mirror event %s: %v", ev.Kind, err)
		}
	}
}

// HandleRemote feeds one frame received from the mirror subject.
func (e *SyncEngine) HandleRemote(data []byte) {
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Warnf("drop malformed remote event: %v", err)
		return
	}
	if ev.Origin == e.origin {
		return // 自己广播出去的回声
	}
	e.deliverLocal(ev.ParticipantIDs, data)
}

func (e *SyncEngine) deliverLocal(userIDs []string, data []byte) {
	conns := e.mgr.ConnsForUsers(userIDs)
	if len(conns) == 0 {
		return
	}
	e.fanout.Broadcast(conns, data)
}
