package telegram

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/telegrab/telegrab/internal/logger"
	"github.com/telegrab/telegrab/internal/models"
)

// dialogPageSize is the page size for conversation enumeration.
const dialogPageSize = 100

// Client provides high-level Telegram operations over a live session.
// Every call waits on the shared rate limiter first; FLOOD_WAIT responses
// are surfaced as *FloodWaitError so callers can honor the mandatory wait.
type Client struct {
	manager     *SessionManager
	rateLimiter *RateLimiter
	log         *logger.Logger
}

// NewClient creates a client wrapper over the session manager.
func NewClient(manager *SessionManager) *Client {
	return &Client{
		manager:     manager,
		rateLimiter: DefaultRateLimiter(),
		log:         logger.Get(),
	}
}

// api returns the raw tg.Client of the current connection.
func (c *Client) api() (*tg.Client, error) {
	return c.manager.API()
}

// wrapErr converts FLOOD_WAIT responses into the typed error and updates the
// limiter hold window; other errors are wrapped with the operation name.
func (c *Client) wrapErr(op string, err error) error {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		c.rateLimiter.SetFloodWait(wait)
		c.log.Warn().Dur("wait", wait).Str("op", op).Msg("telegram: flood wait")
		return &FloodWaitError{Wait: wait}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ListDialogs enumerates all conversations visible to the account.
// Direct-user conversations are skipped; only groups and channels are
// returned, deduplicated across pages.
func (c *Client) ListDialogs(ctx context.Context) ([]Dialog, error) {
	api, err := c.api()
	if err != nil {
		return nil, err
	}

	var (
		out        []Dialog
		seen       = map[int64]bool{}
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)

	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogPageSize,
		})
		if err != nil {
			return nil, c.wrapErr("get dialogs", err)
		}

		var (
			dialogs []tg.DialogClass
			msgs    []tg.MessageClass
			chats   []tg.ChatClass
			users   []tg.UserClass
			full    bool
		)
		switch d := res.(type) {
		case *tg.MessagesDialogs:
			dialogs, msgs, chats, users = d.Dialogs, d.Messages, d.Chats, d.Users
			full = true
		case *tg.MessagesDialogsSlice:
			dialogs, msgs, chats, users = d.Dialogs, d.Messages, d.Chats, d.Users
		default:
			return out, nil
		}

		for _, d := range extractDialogs(chats) {
			if !seen[d.ID] {
				seen[d.ID] = true
				out = append(out, d)
			}
		}

		if full || len(dialogs) < dialogPageSize {
			return out, nil
		}

		last, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
		if !ok {
			return out, nil
		}
		offsetID = last.TopMessage
		offsetPeer = peerToInput(last.Peer, chats, users)
		offsetDate = messageDate(msgs, last.Peer, last.TopMessage)
		if offsetDate == 0 {
			// no usable offset, stop rather than loop on the same page
			return out, nil
		}
	}
}

// FetchMessages returns up to limit messages with id > minID, in ascending
// id order.
func (c *Client) FetchMessages(ctx context.Context, chat *models.Chat, minID, limit int) ([]MessageInfo, error) {
	if limit > 100 {
		limit = 100 // telegram api limit
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	api, err := c.api()
	if err != nil {
		return nil, err
	}

	// OffsetID/AddOffset aim the window at the messages directly after
	// minID; MinID guards the lower bound on the server side.
	history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:      inputPeer(chat),
		OffsetID:  minID + 1,
		AddOffset: -limit,
		Limit:     limit,
		MinID:     minID,
	})
	if err != nil {
		return nil, c.wrapErr("get history", err)
	}

	messages := extractMessages(history)
	out := make([]MessageInfo, 0, len(messages))
	for _, m := range messages {
		if m.ID <= minID {
			continue
		}
		out = append(out, parseMessage(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetMessage fetches a single message by id, primarily to obtain a fresh
// media descriptor (file references expire). Returns ErrNotFound when the
// message no longer exists.
func (c *Client) GetMessage(ctx context.Context, chat *models.Chat, messageID int) (*MessageInfo, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	api, err := c.api()
	if err != nil {
		return nil, err
	}

	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: messageID}}

	var res tg.MessagesMessagesClass
	if chat.AccessHash != 0 {
		res, err = api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash},
			ID:      ids,
		})
	} else {
		res, err = api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		return nil, c.wrapErr("get message", err)
	}

	for _, m := range extractMessages(res) {
		if m.ID == messageID {
			info := parseMessage(m)
			return &info, nil
		}
	}
	return nil, fmt.Errorf("message %d in chat %d: %w", messageID, chat.ID, ErrNotFound)
}

// inputPeer builds the request peer for a chat. Channels and supergroups
// carry an access hash; basic groups do not.
func inputPeer(chat *models.Chat) tg.InputPeerClass {
	if chat.AccessHash != 0 {
		return &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash}
	}
	return &tg.InputPeerChat{ChatID: chat.ID}
}

// extractDialogs converts the chat list of a dialogs response.
// Users never appear here, which is what skips direct conversations.
func extractDialogs(chats []tg.ChatClass) []Dialog {
	var out []Dialog
	for _, ch := range chats {
		switch c := ch.(type) {
		case *tg.Chat:
			if c.Deactivated {
				continue
			}
			out = append(out, Dialog{ID: c.ID, Title: c.Title, Kind: models.ChatKindGroup})
		case *tg.Channel:
			kind := models.ChatKindChannel
			if c.Megagroup {
				kind = models.ChatKindGroup
			}
			out = append(out, Dialog{
				ID:         c.ID,
				AccessHash: c.AccessHash,
				Title:      c.Title,
				Kind:       kind,
			})
		}
	}
	return out
}

// extractMessages flattens a messages response to concrete messages.
func extractMessages(res tg.MessagesMessagesClass) []*tg.Message {
	var raw []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	}

	var out []*tg.Message
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, msg)
		}
	}
	return out
}

// parseMessage converts a raw message to MessageInfo.
func parseMessage(m *tg.Message) MessageInfo {
	info := MessageInfo{
		ID:    m.ID,
		Date:  time.Unix(int64(m.Date), 0),
		Text:  m.Message,
		Media: extractMedia(m),
	}

	if from, ok := m.FromID.(*tg.PeerUser); ok {
		info.SenderID = from.UserID
	}

	if m.ReplyTo != nil {
		if header, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok && header.ForumTopic {
			info.TopicID = header.ReplyToMsgID
		}
	}

	return info
}

// extractMedia pulls the download descriptor from attached media.
// Photos are indexed as media but are not downloadable documents.
func extractMedia(m *tg.Message) *MediaInfo {
	switch media := m.Media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.AsNotEmpty()
		if !ok {
			return nil
		}
		info := &MediaInfo{
			DocumentID:    doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
			Size:          doc.Size,
			Type:          doc.MimeType,
			Downloadable:  true,
		}
		for _, attr := range doc.Attributes {
			if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
				info.FileName = fn.FileName
			}
		}
		return info
	case *tg.MessageMediaPhoto:
		return &MediaInfo{Type: "photo"}
	default:
		return nil
	}
}

// peerToInput resolves a dialog peer to an input peer using the entities of
// the same response page.
func peerToInput(peer tg.PeerClass, chats []tg.ChatClass, users []tg.UserClass) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerChannel:
		for _, ch := range chats {
			if channel, ok := ch.(*tg.Channel); ok && channel.ID == p.ChannelID {
				return &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash}
			}
		}
	case *tg.PeerUser:
		for _, u := range users {
			if user, ok := u.(*tg.User); ok && user.ID == p.UserID {
				return &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}
			}
		}
	}
	return &tg.InputPeerEmpty{}
}

// messageDate finds the date of a dialog's top message for offset pagination.
func messageDate(msgs []tg.MessageClass, peer tg.PeerClass, id int) int {
	for _, m := range msgs {
		msg, ok := m.(*tg.Message)
		if !ok || msg.ID != id {
			continue
		}
		if samePeer(msg.PeerID, peer) {
			return msg.Date
		}
	}
	return 0
}

// samePeer compares two peers by type and id.
func samePeer(a, b tg.PeerClass) bool {
	switch pa := a.(type) {
	case *tg.PeerChat:
		pb, ok := b.(*tg.PeerChat)
		return ok && pa.ChatID == pb.ChatID
	case *tg.PeerChannel:
		pb, ok := b.(*tg.PeerChannel)
		return ok && pa.ChannelID == pb.ChannelID
	case *tg.PeerUser:
		pb, ok := b.(*tg.PeerUser)
		return ok && pa.UserID == pb.UserID
	}
	return false
}
