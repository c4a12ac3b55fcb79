package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	"github.com/angelmondragon/marketledger-backend/pkg/outbox/payloads"
)

// ErrDecoderNotRegistered is returned by Decode for unknown event versions.
var ErrDecoderNotRegistered = errors.New("decoder not registered")

type decoderFunc func(payload json.RawMessage) (interface{}, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry stores versioned payload decoders for consumers.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

// NewDecoderRegistry builds an empty decoder registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
}

// Register stores a decoder for the given event type and version.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder decoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

// Decode runs the decoder registered for the event type and version.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	if decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]; ok {
		return decoder(payload)
	}
	return nil, fmt.Errorf("%w for %s@v%d", ErrDecoderNotRegistered, eventType, version)
}

// NewLedgerDecoderRegistry registers the v1 decoders for every event carried
// on the ledger topic.
func NewLedgerDecoderRegistry() *DecoderRegistry {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventOrderSettled, 1, decodeInto(func() interface{} { return &payloads.OrderSettledEvent{} }))
	reg.Register(enums.EventOrderRefunded, 1, decodeInto(func() interface{} { return &payloads.OrderRefundedEvent{} }))
	reg.Register(enums.EventWalletTransactionRecorded, 1, decodeInto(func() interface{} { return &payloads.WalletTransactionRecordedEvent{} }))
	reg.Register(enums.EventPayoutRequested, 1, decodeInto(func() interface{} { return &payloads.PayoutRequestedEvent{} }))
	reg.Register(enums.EventPayoutDecided, 1, decodeInto(func() interface{} { return &payloads.PayoutDecidedEvent{} }))
	return reg
}

func decodeInto(factory func() interface{}) decoderFunc {
	return func(payload json.RawMessage) (interface{}, error) {
		target := factory()
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, err
		}
		return target, nil
	}
}
