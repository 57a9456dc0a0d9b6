package natsx

import (
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// NatsxConsumer 消费端
type NatsxConsumer struct {
	c *NatsxClient
}

func NewNatsxConsumer(c *NatsxClient) *NatsxConsumer {
	return &NatsxConsumer{c: c}
}

// Subscribe core 订阅。每个镜像事件节点都要收到，所以事件镜像订阅不走
// 队列组；queue 非空时按队列组分摊（通知类消费用）。
func (cs *NatsxConsumer) Subscribe(subject, queue string, h func(data []byte)) error {
	if subject == "" {
		return errors.New("subject required")
	}
	cb := func(m *nats.Msg) {
		h(append([]byte(nil), m.Data...))
	}
	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = cs.c.nc.Subscribe(subject, cb)
	} else {
		sub, err = cs.c.nc.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", subject)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	cs.c.track(sub)
	return nil
}
