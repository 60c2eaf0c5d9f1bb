package ua

import "sync"

// EventBus dispatches UA lifecycle notifications to registered callbacks.
// Each event variant carries its own typed payload struct rather than a
// generic map, so handlers never type-assert — mirroring how dialog.Dialog
// hands its StateFunc a concrete sip.DialogState instead of an any.
type EventBus struct {
	mu sync.Mutex

	onRegistered         []func(RegisteredEvent)
	onUnregistered       []func(UnregisteredEvent)
	onRegistrationFailed []func(RegistrationFailedEvent)

	onNewSession    []func(NewSessionEvent)
	onNewMessage    []func(NewMessageEvent)
	onNewOptions    []func(NewOptionsEvent)
	onNewSubscribe  []func(NewSubscribeEvent)

	onNewTransaction        []func(TransactionEvent)
	onTransactionDestroyed  []func(TransactionEvent)

	onSocketConnecting   []func(SocketEvent)
	onSocketConnected    []func(SocketEvent)
	onSocketDisconnected []func(SocketEvent)

	onSIPEvent []func(SIPEvent)
}

// RegisteredEvent reports a successful REGISTER (initial or refresh).
type RegisteredEvent struct {
	Expires uint32
}

// UnregisteredEvent reports a clean (Expires: 0) de-registration.
type UnregisteredEvent struct {
	Cause error
}

// RegistrationFailedEvent reports a REGISTER attempt that could not be
// completed after exhausting challenge/interval retries.
type RegistrationFailedEvent struct {
	Cause error
}

// NewSessionEvent reports an inbound INVITE accepted into the session table.
type NewSessionEvent struct {
	CallID string
}

// NewMessageEvent reports an inbound out-of-dialog MESSAGE request.
type NewMessageEvent struct {
	CallID string
}

// NewOptionsEvent reports an inbound out-of-dialog OPTIONS request.
type NewOptionsEvent struct {
	CallID string
}

// NewSubscribeEvent reports an inbound SUBSCRIBE establishing a new
// subscription dialog.
type NewSubscribeEvent struct {
	CallID string
}

// TransactionEvent reports a transaction layer lifecycle edge.
type TransactionEvent struct {
	Key string
}

// SocketEvent reports a transport socket lifecycle edge.
type SocketEvent struct {
	Network string
	Addr    string
	Cause   error
}

// SIPEvent reports a raw inbound message the dispatcher did not otherwise
// route, for callers building custom diagnostics/tracing on top of the UA.
type SIPEvent struct {
	Method string
}

func (b *EventBus) OnRegistered(f func(RegisteredEvent)) { addHandler(b, &b.onRegistered, f) }
func (b *EventBus) OnUnregistered(f func(UnregisteredEvent)) { addHandler(b, &b.onUnregistered, f) }
func (b *EventBus) OnRegistrationFailed(f func(RegistrationFailedEvent)) {
	addHandler(b, &b.onRegistrationFailed, f)
}

func (b *EventBus) OnNewSession(f func(NewSessionEvent))     { addHandler(b, &b.onNewSession, f) }
func (b *EventBus) OnNewMessage(f func(NewMessageEvent))     { addHandler(b, &b.onNewMessage, f) }
func (b *EventBus) OnNewOptions(f func(NewOptionsEvent))     { addHandler(b, &b.onNewOptions, f) }
func (b *EventBus) OnNewSubscribe(f func(NewSubscribeEvent)) { addHandler(b, &b.onNewSubscribe, f) }

func (b *EventBus) OnNewTransaction(f func(TransactionEvent)) { addHandler(b, &b.onNewTransaction, f) }
func (b *EventBus) OnTransactionDestroyed(f func(TransactionEvent)) {
	addHandler(b, &b.onTransactionDestroyed, f)
}

func (b *EventBus) OnSocketConnecting(f func(SocketEvent))   { addHandler(b, &b.onSocketConnecting, f) }
func (b *EventBus) OnSocketConnected(f func(SocketEvent))    { addHandler(b, &b.onSocketConnected, f) }
func (b *EventBus) OnSocketDisconnected(f func(SocketEvent)) { addHandler(b, &b.onSocketDisconnected, f) }

func (b *EventBus) OnSIPEvent(f func(SIPEvent)) { addHandler(b, &b.onSIPEvent, f) }

func addHandler[T any](b *EventBus, slot *[]func(T), f func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	*slot = append(*slot, f)
}

func hasHandlers[T any](b *EventBus, slot *[]func(T)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(*slot) > 0
}

// hasNewMessageHandlers reports whether any MESSAGE listener is registered;
// the dispatcher falls back to 405 for out-of-dialog MESSAGE when none is.
func (b *EventBus) hasNewMessageHandlers() bool { return hasHandlers(b, &b.onNewMessage) }

// hasNewSubscribeHandlers reports whether any SUBSCRIBE listener is
// registered; the dispatcher falls back to 405 for SUBSCRIBE when none is.
func (b *EventBus) hasNewSubscribeHandlers() bool { return hasHandlers(b, &b.onNewSubscribe) }

func emit[T any](b *EventBus, slot *[]func(T), ev T) {
	b.mu.Lock()
	handlers := append([]func(T){}, *slot...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (b *EventBus) emitRegistered(ev RegisteredEvent)                     { emit(b, &b.onRegistered, ev) }
func (b *EventBus) emitUnregistered(ev UnregisteredEvent)                 { emit(b, &b.onUnregistered, ev) }
func (b *EventBus) emitRegistrationFailed(ev RegistrationFailedEvent)     { emit(b, &b.onRegistrationFailed, ev) }
func (b *EventBus) emitNewSession(ev NewSessionEvent)                     { emit(b, &b.onNewSession, ev) }
func (b *EventBus) emitNewMessage(ev NewMessageEvent)                     { emit(b, &b.onNewMessage, ev) }
func (b *EventBus) emitNewOptions(ev NewOptionsEvent)                     { emit(b, &b.onNewOptions, ev) }
func (b *EventBus) emitNewSubscribe(ev NewSubscribeEvent)                 { emit(b, &b.onNewSubscribe, ev) }
func (b *EventBus) emitNewTransaction(ev TransactionEvent)                { emit(b, &b.onNewTransaction, ev) }
func (b *EventBus) emitTransactionDestroyed(ev TransactionEvent)          { emit(b, &b.onTransactionDestroyed, ev) }
func (b *EventBus) emitSocketConnecting(ev SocketEvent)                   { emit(b, &b.onSocketConnecting, ev) }
func (b *EventBus) emitSocketConnected(ev SocketEvent)                    { emit(b, &b.onSocketConnected, ev) }
func (b *EventBus) emitSocketDisconnected(ev SocketEvent)                 { emit(b, &b.onSocketDisconnected, ev) }
func (b *EventBus) emitSIPEvent(ev SIPEvent)                              { emit(b, &b.onSIPEvent, ev) }
