package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/tradecore/matchd/internal/common/errors"
	"github.com/tradecore/matchd/internal/wire"
)

// runReceiver reads 50-byte datagrams, decodes them, and enqueues typed
// messages. Malformed frames are logged and dropped; the received counter
// moves only for well-formed SUBMIT and CANCEL.
func (p *Pipeline) runReceiver() {
	defer p.receiverDone.Done()

	buf := make([]byte, 2048)
	for {
		n, _, err := p.inConn.ReadFrom(buf)
		if err != nil {
			if p.closing.Load() {
				return
			}
			p.logger.Error("receive failed", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		msgType, payload, err := wire.Decode(buf[:n])
		if err != nil {
			p.met.FramesDropped.WithLabelValues(string(errors.CodeOf(err))).Inc()
			p.logger.Debug("dropping malformed frame", zap.Int("size", n), zap.Error(err))
			continue
		}

		var msg Message
		switch msgType {
		case wire.MsgSubmit:
			order, derr := wire.DecodeSubmit(payload)
			if derr != nil {
				p.met.FramesDropped.WithLabelValues(string(errors.CodeOf(derr))).Inc()
				continue
			}
			msg = Message{Kind: KindSubmit, Order: order}
		case wire.MsgCancel:
			cancel, derr := wire.DecodeCancel(payload)
			if derr != nil {
				p.met.FramesDropped.WithLabelValues(string(errors.CodeOf(derr))).Inc()
				continue
			}
			msg = Message{Kind: KindCancel, Cancel: cancel}
		default:
			// Trade and stats frames are this engine's own output looping
			// back on the multicast group.
			continue
		}

		p.met.FramesDecoded.WithLabelValues(kindLabel(msg.Kind)).Inc()
		p.core.RecordReceived()
		p.enqueue(msg)
	}
}

// enqueue applies the configured backpressure policy: block (default) or
// drop the newest frame when the inbound queue is full.
func (p *Pipeline) enqueue(msg Message) {
	if p.opts.DropWhenFull {
		select {
		case p.inbound <- msg:
			p.met.InboundDepth.Set(float64(len(p.inbound)))
		default:
			p.met.FramesDropped.WithLabelValues(string(errors.CodeQueueFull)).Inc()
		}
		return
	}
	select {
	case p.inbound <- msg:
		p.met.InboundDepth.Set(float64(len(p.inbound)))
	case <-p.stop:
	}
}

func kindLabel(kind MessageKind) string {
	if kind == KindSubmit {
		return "submit"
	}
	return "cancel"
}
