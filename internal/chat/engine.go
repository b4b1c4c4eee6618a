// Package chat implements the message synchronization engine: the
// lifecycle of a sent message from optimistic placeholder to confirmed
// record to delivered/read, with idempotent handling of server echoes
// and receipts.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lvieira/chime/internal/bus"
	"github.com/lvieira/chime/internal/store"
	"github.com/lvieira/chime/internal/transport"
	"github.com/lvieira/chime/internal/upload"
	"github.com/lvieira/chime/internal/wire"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by outbound operations while the chat
// channel is down. Nothing is queued; retry is the caller's decision.
var ErrNotConnected = errors.New("chat: not connected")

// Sender is the transport surface the engine needs.
type Sender interface {
	Send(ch transport.Channel, event string, payload any) error
	Connected(ch transport.Channel) bool
}

// Uploader is the REST media upload collaborator. Re-invoking with the
// same upload id resumes a partial upload.
type Uploader interface {
	Upload(ctx context.Context, path, uploadID string, progress upload.Progress) (string, error)
}

// clientIDPrefix marks correlation ids as provisional.
const clientIDPrefix = "local-"

// SendOptions carries the optional parts of a send. UploadID resumes
// the attachment upload of a previously failed send; leave it empty for
// a fresh upload. The id of a failed attempt is surfaced in SendFailure.
type SendOptions struct {
	AttachmentPath string
	ReplyTo        string
	UploadID       string
	OnProgress     func(sent, total int64)
}

// Engine reconciles locally-created messages with server-confirmed
// records. All handlers lock the engine, so check-then-act sequences
// (placeholder lookup, unread adjustment) are atomic per event.
type Engine struct {
	db       *store.DB
	sender   Sender
	uploader Uploader
	bus      *bus.Bus
	logger   *zap.Logger
	selfID   string

	mu         sync.Mutex
	activeConv string
}

// NewEngine creates a sync engine for the local user selfID.
func NewEngine(db *store.DB, sender Sender, uploader Uploader, b *bus.Bus, selfID string, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		sender:   sender,
		uploader: uploader,
		bus:      b,
		logger:   logger,
		selfID:   selfID,
	}
}

// SetActiveConversation records which conversation is currently open so
// inbound remote messages in it are immediately read-acknowledged.
// Empty means none.
func (e *Engine) SetActiveConversation(id string) {
	e.mu.Lock()
	e.activeConv = id
	e.mu.Unlock()
}

// Send inserts an optimistic record and transmits the message. While
// disconnected it fails immediately and no record persists. An upload
// failure removes the optimistic record and surfaces the error.
func (e *Engine) Send(ctx context.Context, conversationID, body string, opts SendOptions) error {
	if !e.sender.Connected(transport.ChannelChat) {
		return ErrNotConnected
	}

	clientID := clientIDPrefix + uuid.NewString()
	now := time.Now().UnixMilli()

	e.mu.Lock()
	localID, err := e.db.InsertMessage(&store.Message{
		ConversationID: conversationID,
		ClientID:       clientID,
		SenderID:       e.selfID,
		Body:           body,
		ReplyTo:        opts.ReplyTo,
		Status:         store.StatusSending,
		Timestamp:      now,
	})
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("insert optimistic record: %w", err)
	}
	e.bus.Emit(bus.KindMessageUpserted, MessageRef{ConversationID: conversationID, ClientID: clientID})

	var mediaURL, uploadID string
	if opts.AttachmentPath != "" {
		uploadID = opts.UploadID
		if uploadID == "" {
			uploadID = uuid.NewString()
		}
		mediaURL, err = e.uploader.Upload(ctx, opts.AttachmentPath, uploadID, opts.OnProgress)
		if err != nil {
			e.discardOptimistic(localID, conversationID, clientID, uploadID, err)
			return fmt.Errorf("upload attachment: %w", err)
		}
	}

	err = e.sender.Send(transport.ChannelChat, wire.EvSendMessage, wire.SendMessage{
		ClientID:       clientID,
		ConversationID: conversationID,
		Body:           body,
		MediaURL:       mediaURL,
		ReplyTo:        opts.ReplyTo,
	})
	if err != nil {
		e.discardOptimistic(localID, conversationID, clientID, uploadID, err)
		return fmt.Errorf("transmit message: %w", err)
	}
	return nil
}

func (e *Engine) discardOptimistic(localID int64, conversationID, clientID, uploadID string, cause error) {
	e.mu.Lock()
	if err := e.db.Delete(localID); err != nil && e.logger != nil {
		e.logger.Error("failed to remove optimistic record", zap.Error(err), zap.String("client_id", clientID))
	}
	e.mu.Unlock()
	e.bus.Emit(bus.KindMessageSendFailed, SendFailure{
		ConversationID: conversationID,
		ClientID:       clientID,
		UploadID:       uploadID,
		Err:            cause,
	})
}

// HandleMessage reconciles one inbound message (live or own echo).
// Idempotent on server id.
func (e *Engine) HandleMessage(msg *wire.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.db.GetByServerID(msg.ID)
	if err != nil {
		e.logError("lookup by server id", err, msg.ID)
		return
	}
	if existing != nil {
		// Already reconciled.
		return
	}

	if err := e.db.UpsertConversation(&store.Conversation{
		ID:                 msg.ConversationID,
		LastMessageAt:      msg.CreatedAt,
		LastMessagePreview: truncate(msg.Body, 100),
	}); err != nil {
		e.logError("upsert conversation", err, msg.ID)
		return
	}

	if msg.SenderID == e.selfID {
		e.reconcileOwnEcho(msg)
		return
	}
	e.ingestRemote(msg)
}

// reconcileOwnEcho replaces the matching optimistic placeholder, if any,
// with the confirmed record. Delivery/read flags are reset to unset: the
// confirmation snapshot may already carry a delivery that raced ahead of
// the dedicated receipt event, and only receipt events may upgrade.
func (e *Engine) reconcileOwnEcho(msg *wire.Message) {
	placeholder := e.findPlaceholder(msg)
	if placeholder == nil {
		// Echo from another device of the same account.
		if _, err := e.db.InsertMessage(&store.Message{
			ConversationID: msg.ConversationID,
			ServerID:       msg.ID,
			SenderID:       msg.SenderID,
			SenderName:     msg.SenderName,
			Body:           msg.Body,
			MediaURL:       msg.MediaURL,
			ReplyTo:        msg.ReplyTo,
			Status:         store.StatusSent,
			Delivered:      msg.Delivered,
			Read:           msg.Read,
			Timestamp:      msg.CreatedAt,
		}); err != nil {
			e.logError("insert own echo", err, msg.ID)
		}
		e.bus.Emit(bus.KindMessageUpserted, MessageRef{ConversationID: msg.ConversationID, ServerID: msg.ID})
		return
	}

	if err := e.db.Confirm(placeholder.ID, msg.ID, msg.CreatedAt); err != nil {
		e.logError("confirm placeholder", err, msg.ID)
		return
	}
	e.bus.Emit(bus.KindMessageUpserted, MessageRef{
		ConversationID: msg.ConversationID,
		ClientID:       placeholder.ClientID,
		ServerID:       msg.ID,
	})
}

// findPlaceholder prefers the round-tripped correlation id; body-text
// matching remains as the fallback for servers that do not echo it.
func (e *Engine) findPlaceholder(msg *wire.Message) *store.Message {
	if msg.ClientID != "" {
		m, err := e.db.GetByClientID(msg.ClientID)
		if err != nil {
			e.logError("lookup by client id", err, msg.ID)
			return nil
		}
		if m != nil && m.ServerID == "" && m.Status == store.StatusSending {
			return m
		}
		return nil
	}
	m, err := e.db.FindPlaceholder(msg.ConversationID, msg.Body)
	if err != nil {
		e.logError("lookup placeholder", err, msg.ID)
		return nil
	}
	return m
}

// ingestRemote inserts a message from another user and acknowledges it.
func (e *Engine) ingestRemote(msg *wire.Message) {
	if _, err := e.db.InsertMessage(&store.Message{
		ConversationID: msg.ConversationID,
		ServerID:       msg.ID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		Body:           msg.Body,
		MediaURL:       msg.MediaURL,
		ReplyTo:        msg.ReplyTo,
		Status:         store.StatusSent,
		Delivered:      msg.Delivered,
		Read:           msg.Read,
		Timestamp:      msg.CreatedAt,
	}); err != nil {
		e.logError("insert remote message", err, msg.ID)
		return
	}

	if err := e.sender.Send(transport.ChannelChat, wire.EvMarkDelivered, wire.MarkDelivered{MessageID: msg.ID}); err != nil {
		e.logError("emit delivery ack", err, msg.ID)
	}

	if msg.ConversationID == e.activeConv {
		if err := e.sender.Send(transport.ChannelChat, wire.EvMarkAllRead, wire.MarkAllRead{ConversationID: msg.ConversationID}); err != nil {
			e.logError("emit read ack", err, msg.ID)
		}
		_ = e.db.SetUnread(msg.ConversationID, 0)
	} else {
		if err := e.db.IncrementUnread(msg.ConversationID); err != nil {
			e.logError("increment unread", err, msg.ID)
		}
		e.bus.Emit(bus.KindConversationUnread, msg.ConversationID)
	}

	e.bus.Emit(bus.KindMessageUpserted, MessageRef{ConversationID: msg.ConversationID, ServerID: msg.ID})
}

// HandleDeliveryReceipt upgrades a message to delivered. Unknown ids and
// stale receipts are no-ops.
func (e *Engine) HandleDeliveryReceipt(r *wire.DeliveryReceipt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.db.MarkDelivered(r.MessageID); err != nil {
		e.logError("mark delivered", err, r.MessageID)
		return
	}
	e.bus.Emit(bus.KindMessageReceipt, MessageRef{ServerID: r.MessageID})
}

// HandleReadReceipt upgrades a message to read.
func (e *Engine) HandleReadReceipt(r *wire.ReadReceipt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.db.MarkRead(r.MessageID); err != nil {
		e.logError("mark read", err, r.MessageID)
		return
	}
	e.bus.Emit(bus.KindMessageReceipt, MessageRef{ServerID: r.MessageID})
}

// HandleAllRead applies a bulk-read confirmation. A peer reading the
// conversation upgrades the local user's messages; the local user's own
// echo (read on another device) zeroes the unread counter.
func (e *Engine) HandleAllRead(r *wire.AllReadReceipt) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.UserID == e.selfID {
		if err := e.db.SetUnread(r.ConversationID, 0); err != nil {
			e.logError("zero unread", err, r.ConversationID)
		}
		e.bus.Emit(bus.KindConversationUnread, r.ConversationID)
		return
	}
	if err := e.db.MarkConversationRead(r.ConversationID, e.selfID); err != nil {
		e.logError("mark conversation read", err, r.ConversationID)
		return
	}
	e.bus.Emit(bus.KindMessageReceipt, MessageRef{ConversationID: r.ConversationID})
}

// HandleUnreadCount applies the authoritative unread counter.
func (e *Engine) HandleUnreadCount(u *wire.UnreadCountUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.db.SetUnread(u.ConversationID, u.UnreadCount); err != nil {
		e.logError("set unread", err, u.ConversationID)
		return
	}
	e.bus.Emit(bus.KindConversationUnread, u.ConversationID)
}

// MarkAllRead emits a bulk read and optimistically zeroes the local
// counter; unread_count_update remains authoritative.
func (e *Engine) MarkAllRead(conversationID string) error {
	if !e.sender.Connected(transport.ChannelChat) {
		return ErrNotConnected
	}
	if err := e.sender.Send(transport.ChannelChat, wire.EvMarkAllRead, wire.MarkAllRead{ConversationID: conversationID}); err != nil {
		return err
	}
	e.mu.Lock()
	err := e.db.SetUnread(conversationID, 0)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.bus.Emit(bus.KindConversationUnread, conversationID)
	return nil
}

// HandleEdited applies a server-side edit.
func (e *Engine) HandleEdited(m *wire.MessageEdited) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.db.UpdateBody(m.MessageID, m.Body, m.EditedAt); err != nil {
		e.logError("apply edit", err, m.MessageID)
		return
	}
	e.bus.Emit(bus.KindMessageEdited, MessageRef{ConversationID: m.ConversationID, ServerID: m.MessageID})
}

// HandleDeleted tombstones a message.
func (e *Engine) HandleDeleted(m *wire.MessageDeleted) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.db.MarkMessageDeleted(m.MessageID); err != nil {
		e.logError("apply delete", err, m.MessageID)
		return
	}
	e.bus.Emit(bus.KindMessageDeleted, MessageRef{ConversationID: m.ConversationID, ServerID: m.MessageID})
}

// HandleReaction records or removes a reaction depending on removed.
func (e *Engine) HandleReaction(r *wire.Reaction, removed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reaction := &store.Reaction{MessageID: r.MessageID, UserID: r.UserID, Emoji: r.Emoji}
	var err error
	if removed {
		err = e.db.RemoveReaction(reaction)
	} else {
		err = e.db.AddReaction(reaction)
	}
	if err != nil {
		e.logError("apply reaction", err, r.MessageID)
		return
	}
	e.bus.Emit(bus.KindMessageReaction, MessageRef{ConversationID: r.ConversationID, ServerID: r.MessageID})
}

// React, RemoveReaction, EditMessage and DeleteMessage are thin outbound
// wrappers; the server's echo drives the local mutation.
func (e *Engine) React(messageID, emoji string) error {
	return e.sendSimple(wire.EvReact, wire.React{MessageID: messageID, Emoji: emoji})
}

func (e *Engine) RemoveReaction(messageID, emoji string) error {
	return e.sendSimple(wire.EvRemoveReaction, wire.React{MessageID: messageID, Emoji: emoji})
}

func (e *Engine) EditMessage(messageID, body string) error {
	return e.sendSimple(wire.EvEditMessage, wire.EditMessage{MessageID: messageID, Body: body})
}

func (e *Engine) DeleteMessage(messageID string) error {
	return e.sendSimple(wire.EvDeleteMessage, wire.DeleteMessage{MessageID: messageID})
}

func (e *Engine) sendSimple(event string, payload any) error {
	if !e.sender.Connected(transport.ChannelChat) {
		return ErrNotConnected
	}
	return e.sender.Send(transport.ChannelChat, event, payload)
}

func (e *Engine) logError(op string, err error, id string) {
	if e.logger != nil {
		e.logger.Error("sync engine: "+op, zap.Error(err), zap.String("id", id))
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// MessageRef identifies a message in bus payloads.
type MessageRef struct {
	ConversationID string
	ClientID       string
	ServerID       string
}

// SendFailure is the payload for message.send_failed events. UploadID,
// when set, names the partial attachment upload; passing it back via
// SendOptions resumes instead of restarting.
type SendFailure struct {
	ConversationID string
	ClientID       string
	UploadID       string
	Err            error
}
