// Package wire frames engine messages as fixed 50-byte checksummed frames.
// Inbound datagrams carry one frame; outbound trade datagrams may carry a
// batch of frames sharing one latency value.
package wire

import (
	"encoding/binary"

	"github.com/tradecore/matchd/internal/common/errors"
	"github.com/tradecore/matchd/internal/engine"
)

// FrameSize is the fixed size of every frame on the wire.
const FrameSize = 50

// Message types, byte 1 of every frame.
const (
	MsgSubmit uint8 = 1
	MsgCancel uint8 = 2
	MsgTrade  uint8 = 10
	MsgStats  uint8 = 11
)

// TradeBatchMax caps how many trade frames share one outbound datagram.
const TradeBatchMax = 20

// payloadStart skips the checksum and type bytes.
const payloadStart = 2

// checksum XORs bytes 1..49, the type byte included.
func checksum(frame []byte) uint8 {
	var sum uint8
	for _, b := range frame[1:] {
		sum ^= b
	}
	return sum
}

// seal stamps the checksum after all other bytes are laid down.
func seal(frame []byte) {
	frame[0] = checksum(frame)
}

// EncodeSubmit serializes an order submission.
func EncodeSubmit(o *engine.Order) [FrameSize]byte {
	var frame [FrameSize]byte
	frame[1] = MsgSubmit
	p := frame[payloadStart:]
	binary.BigEndian.PutUint16(p[0:2], o.ProductID)
	binary.BigEndian.PutUint64(p[2:10], o.OrderID)
	binary.BigEndian.PutUint64(p[10:18], o.Price)
	binary.BigEndian.PutUint32(p[18:22], o.Quantity)
	p[22] = o.Side
	p[23] = o.PriceType
	binary.BigEndian.PutUint64(p[24:32], o.SubmitTime)
	binary.BigEndian.PutUint64(p[32:40], o.ExpireTime)
	seal(frame[:])
	return frame
}

// EncodeCancel serializes a cancel request.
func EncodeCancel(c *engine.CancelRequest) [FrameSize]byte {
	var frame [FrameSize]byte
	frame[1] = MsgCancel
	p := frame[payloadStart:]
	binary.BigEndian.PutUint16(p[0:2], c.ProductID)
	binary.BigEndian.PutUint64(p[2:10], c.OrderID)
	seal(frame[:])
	return frame
}

// EncodeTrade serializes a single execution. The instance tag is truncated to
// its first 8 bytes; the full 16 bytes do not fit a trade frame.
func EncodeTrade(x *engine.OrderExecution) [FrameSize]byte {
	return encodeTradeShared(x, x.InternalMatch)
}

// EncodeTradeShared serializes an execution with a shared per-trade latency,
// used when a whole MatchResult is framed as one batch.
func EncodeTradeShared(x *engine.OrderExecution, timePerTrade uint32) [FrameSize]byte {
	return encodeTradeShared(x, timePerTrade)
}

func encodeTradeShared(x *engine.OrderExecution, internal uint32) [FrameSize]byte {
	var frame [FrameSize]byte
	frame[1] = MsgTrade
	p := frame[payloadStart:]
	copy(p[0:8], x.InstanceTag[:8])
	binary.BigEndian.PutUint16(p[8:10], x.ProductID)
	binary.BigEndian.PutUint64(p[10:18], x.BuyOrderID)
	binary.BigEndian.PutUint64(p[18:26], x.SellOrderID)
	binary.BigEndian.PutUint64(p[26:34], x.Price)
	binary.BigEndian.PutUint32(p[34:38], x.Quantity)
	binary.BigEndian.PutUint32(p[38:42], x.TradeTimeNetwork)
	binary.BigEndian.PutUint32(p[42:46], internal)
	seal(frame[:])
	return frame
}

// EncodeStats serializes a stats broadcast with the full 16-byte tag.
func EncodeStats(s *engine.Stats) [FrameSize]byte {
	var frame [FrameSize]byte
	frame[1] = MsgStats
	p := frame[payloadStart:]
	copy(p[0:16], s.InstanceTag[:])
	binary.BigEndian.PutUint16(p[16:18], s.ProductID)
	binary.BigEndian.PutUint32(p[18:22], s.BidsSize)
	binary.BigEndian.PutUint32(p[22:26], s.AsksSize)
	binary.BigEndian.PutUint32(p[26:30], s.MatchedOrders)
	binary.BigEndian.PutUint32(p[30:34], s.TotalReceivedOrders)
	binary.BigEndian.PutUint64(p[34:42], s.StartTime)
	seal(frame[:])
	return frame
}

// EncodeMatchResult frames a batch of executions into outbound datagrams.
// Frames within one batch carry the result's shared time-per-trade so
// downstream can reconstruct per-execution latency.
func EncodeMatchResult(r *engine.MatchResult) [][]byte {
	if r.Empty() {
		return nil
	}
	perTrade := r.TimePerTrade()
	datagrams := make([][]byte, 0, (len(r.Executions)+TradeBatchMax-1)/TradeBatchMax)
	for start := 0; start < len(r.Executions); start += TradeBatchMax {
		end := start + TradeBatchMax
		if end > len(r.Executions) {
			end = len(r.Executions)
		}
		buf := make([]byte, 0, FrameSize*(end-start))
		for i := start; i < end; i++ {
			frame := EncodeTradeShared(&r.Executions[i], perTrade)
			buf = append(buf, frame[:]...)
		}
		datagrams = append(datagrams, buf)
	}
	return datagrams
}

// Decode validates a frame and returns its type and payload slice. The
// payload aliases buf; decoding is pure and never mutates the frame.
func Decode(buf []byte) (uint8, []byte, error) {
	if len(buf) != FrameSize {
		return 0, nil, errors.Newf(errors.CodeLengthMismatch,
			"frame is %d bytes, want %d", len(buf), FrameSize)
	}
	if buf[0] != checksum(buf) {
		return 0, nil, errors.ErrChecksumFailed
	}
	msgType := buf[1]
	switch msgType {
	case MsgSubmit, MsgCancel, MsgTrade, MsgStats:
		return msgType, buf[payloadStart:], nil
	default:
		return 0, nil, errors.Newf(errors.CodeUnknownType, "message type %d", msgType)
	}
}

// DecodeSubmit parses a SUBMIT payload into an Order.
func DecodeSubmit(payload []byte) (engine.Order, error) {
	if len(payload) < 40 {
		return engine.Order{}, errors.New(errors.CodeLengthMismatch, "submit payload too short")
	}
	return engine.Order{
		ProductID:  binary.BigEndian.Uint16(payload[0:2]),
		OrderID:    binary.BigEndian.Uint64(payload[2:10]),
		Price:      binary.BigEndian.Uint64(payload[10:18]),
		Quantity:   binary.BigEndian.Uint32(payload[18:22]),
		Side:       payload[22],
		PriceType:  payload[23],
		SubmitTime: binary.BigEndian.Uint64(payload[24:32]),
		ExpireTime: binary.BigEndian.Uint64(payload[32:40]),
	}, nil
}

// DecodeCancel parses a CANCEL payload.
func DecodeCancel(payload []byte) (engine.CancelRequest, error) {
	if len(payload) < 10 {
		return engine.CancelRequest{}, errors.New(errors.CodeLengthMismatch, "cancel payload too short")
	}
	return engine.CancelRequest{
		ProductID: binary.BigEndian.Uint16(payload[0:2]),
		OrderID:   binary.BigEndian.Uint64(payload[2:10]),
	}, nil
}

// DecodeTrade parses a TRADE payload. Only the first 8 tag bytes travel on
// the wire; the remaining tag bytes come back zero.
func DecodeTrade(payload []byte) (engine.OrderExecution, error) {
	if len(payload) < 46 {
		return engine.OrderExecution{}, errors.New(errors.CodeLengthMismatch, "trade payload too short")
	}
	var x engine.OrderExecution
	copy(x.InstanceTag[:8], payload[0:8])
	x.ProductID = binary.BigEndian.Uint16(payload[8:10])
	x.BuyOrderID = binary.BigEndian.Uint64(payload[10:18])
	x.SellOrderID = binary.BigEndian.Uint64(payload[18:26])
	x.Price = binary.BigEndian.Uint64(payload[26:34])
	x.Quantity = binary.BigEndian.Uint32(payload[34:38])
	x.TradeTimeNetwork = binary.BigEndian.Uint32(payload[38:42])
	x.InternalMatch = binary.BigEndian.Uint32(payload[42:46])
	return x, nil
}

// DecodeStats parses a STATS payload.
func DecodeStats(payload []byte) (engine.Stats, error) {
	if len(payload) < 42 {
		return engine.Stats{}, errors.New(errors.CodeLengthMismatch, "stats payload too short")
	}
	var s engine.Stats
	copy(s.InstanceTag[:], payload[0:16])
	s.ProductID = binary.BigEndian.Uint16(payload[16:18])
	s.BidsSize = binary.BigEndian.Uint32(payload[18:22])
	s.AsksSize = binary.BigEndian.Uint32(payload[22:26])
	s.MatchedOrders = binary.BigEndian.Uint32(payload[26:30])
	s.TotalReceivedOrders = binary.BigEndian.Uint32(payload[30:34])
	s.StartTime = binary.BigEndian.Uint64(payload[34:42])
	return s, nil
}
