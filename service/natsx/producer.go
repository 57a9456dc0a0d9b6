package natsx

import "github.com/pkg/errors"

// NatsxProducer 生产端：固定 subject 的事件镜像发布器，满足网关的
// Mirror 口径。
type NatsxProducer struct {
	c       *NatsxClient
	subject string
}

func NewNatsxProducer(c *NatsxClient, subject string) *NatsxProducer {
	return &NatsxProducer{c: c, subject: subject}
}

func (p *NatsxProducer) Publish(data []byte) error {
	return errors.Wrapf(p.c.nc.Publish(p.subject, data), "publish %s", p.subject)
}
