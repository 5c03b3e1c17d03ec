// Package routing connects chat channels to the design orchestrator.
package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/soyeahso/chaincraft/internal/channel"
	"github.com/soyeahso/chaincraft/internal/design"
	"github.com/soyeahso/chaincraft/internal/domain"
	"github.com/soyeahso/chaincraft/internal/hooks"
	"github.com/soyeahso/chaincraft/internal/logging"
	"github.com/soyeahso/chaincraft/internal/publish"
	"github.com/soyeahso/chaincraft/internal/store"
)

// Share notices.
const (
	NoticeNothingToShare = "There is no game design to share."
	NoticeShared         = "The game design has been shared."
	NoticeShareFailed    = "There was an error sharing the game design. Please try again later."
	NoticeNeedsPrompt    = "Tell me what kind of game you want to design."
)

// Designs is the orchestrator surface the router drives.
type Designs interface {
	StartDesign(ctx context.Context, id, description string) (*design.Reply, error)
	HandleTurn(ctx context.Context, id, text string) (*design.Reply, error)
	HandleApproval(ctx context.Context, id string) (*design.Reply, error)
	HandleTeardown(ctx context.Context, id string)
	GenerateImage(ctx context.Context, id string) (*design.Reply, error)
	IsActive(ctx context.Context, id string) (bool, error)
	Snapshot(ctx context.Context, id string) (store.State, error)
}

// Options configures a Router.
type Options struct {
	// Prefix starts a command, "!" by default.
	Prefix string
	// ShareChannel is where shared designs are posted on the originating
	// channel. Empty posts nothing.
	ShareChannel string
}

// Router turns inbound chat messages into orchestrator operations and sends
// the replies back through the originating channel.
type Router struct {
	channels  *channel.Registry
	designs   Designs
	publisher *publish.Publisher
	opts      Options
	log       *logging.Logger
	queue     *keyedQueue

	mu     sync.Mutex
	active map[string]map[string]struct{} // "<channel>:<user>" -> conversation ids
}

// NewRouter creates a message router. publisher may be nil, which disables
// sharing.
func NewRouter(channels *channel.Registry, designs Designs, publisher *publish.Publisher, opts Options, log *logging.Logger) *Router {
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}
	l := log.Sub("routing")
	return &Router{
		channels:  channels,
		designs:   designs,
		publisher: publisher,
		opts:      opts,
		log:       l,
		queue:     newKeyedQueue(l),
		active:    make(map[string]map[string]struct{}),
	}
}

// Dispatch queues msg behind any earlier message of the same conversation
// and returns without waiting. Messages of one conversation are handled one
// at a time in arrival order; other conversations proceed in parallel.
func (r *Router) Dispatch(ctx context.Context, msg domain.InboundMessage) {
	r.queue.push(domain.KeyFor(msg).String(), func() { r.HandleInbound(ctx, msg) })
}

// DispatchLeave queues a part behind the conversation's pending messages.
// A quit spans every chat of the user and has a queue of its own.
func (r *Router) DispatchLeave(ctx context.Context, ev domain.LeaveEvent) {
	if ev.Kind == domain.LeaveQuit {
		r.queue.push(ev.ChannelID+":"+ev.User, func() { r.HandleLeave(ctx, ev) })
		return
	}
	key := domain.ConversationKey{ChannelID: ev.ChannelID, ChatID: ev.ChatID, User: ev.User}
	r.queue.push(key.String(), func() { r.HandleLeave(ctx, ev) })
}

// Wait blocks until every dispatched message has been handled.
func (r *Router) Wait() {
	r.queue.wait()
}

// HandleInbound processes an inbound message from any channel.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) {
	key := domain.KeyFor(msg)
	id := key.String()

	cmd, isCmd := ParseCommand(msg.Body, r.opts.Prefix)

	r.log.Debug().
		Str("channel", msg.ChannelID).
		Str("from", msg.From).
		Str("chatId", msg.ChatID).
		Str("command", cmd.Name).
		Msg("routing inbound message")

	var (
		reply *design.Reply
		err   error
	)
	switch {
	case !isCmd:
		active, aerr := r.designs.IsActive(ctx, id)
		if aerr != nil {
			r.log.Error().Err(aerr).Str("conversation", id).Msg("state lookup failed")
			return
		}
		if !active {
			return
		}
		reply, err = r.designs.HandleTurn(ctx, id, msg.Body)
	case cmd.Name == CmdDesign:
		if cmd.Arg == "" {
			r.reply(ctx, msg, NoticeNeedsPrompt)
			return
		}
		reply, err = r.designs.StartDesign(ctx, id, cmd.Arg)
		if err == nil {
			r.track(key)
		}
	case cmd.Name == CmdApprove:
		reply, err = r.designs.HandleApproval(ctx, id)
	case cmd.Name == CmdImage:
		reply, err = r.designs.GenerateImage(ctx, id)
	case cmd.Name == CmdShare:
		r.share(ctx, msg, id)
		return
	case cmd.Name == CmdEnd:
		r.designs.HandleTeardown(ctx, id)
		r.untrack(key)
		return
	case cmd.Name == CmdHelp:
		r.reply(ctx, msg, helpText(r.opts.Prefix))
		return
	default:
		return
	}

	if err != nil {
		r.log.Warn().Err(err).Str("conversation", id).Msg("design operation failed")
	}
	if reply == nil {
		return
	}
	if reply.Ended {
		r.untrack(key)
	}
	r.reply(ctx, msg, reply.Text())
}

// HandleLeave tears down the conversations of a user who left. A quit ends
// every conversation the user has on that channel.
func (r *Router) HandleLeave(ctx context.Context, ev domain.LeaveEvent) {
	var ids []string
	if ev.Kind == domain.LeaveQuit {
		ids = r.untrackUser(ev.ChannelID, ev.User)
		dm := domain.ConversationKey{ChannelID: ev.ChannelID, ChatID: ev.User, User: ev.User}.String()
		if !slices.Contains(ids, dm) {
			ids = append(ids, dm)
		}
	} else {
		key := domain.ConversationKey{ChannelID: ev.ChannelID, ChatID: ev.ChatID, User: ev.User}
		r.untrack(key)
		ids = []string{key.String()}
	}

	for _, id := range ids {
		r.designs.HandleTeardown(ctx, id)
	}
	r.log.Debug().
		Str("user", ev.User).
		Str("kind", string(ev.Kind)).
		Int("conversations", len(ids)).
		Msg("user left")
}

// OnImageReady posts a background image to the conversation it belongs to.
// It is registered as a hook handler for hooks.EventImageReady.
func (r *Router) OnImageReady(ctx context.Context, p hooks.Payload) error {
	key, err := domain.ParseConversationKey(p.Str("conversationId"))
	if err != nil {
		return err
	}
	if _, ok := r.channels.Get(key.ChannelID); !ok {
		// Conversations started through the gateway have no chat to post to.
		return nil
	}
	body := "Image: " + p.Str("imageUrl")
	if title := p.Str("title"); title != "" {
		body = "Image for " + title + ": " + p.Str("imageUrl")
	}
	return r.channels.Send(ctx, domain.OutboundMessage{
		ChannelID: key.ChannelID,
		To:        key.ChatID,
		Body:      r.address(key.ChatID, key.User, body),
	})
}

// Wire registers the router on every channel and on hk.
func (r *Router) Wire(ctx context.Context, hk *hooks.Manager) {
	r.channels.Each(func(ch domain.Channel) {
		ch.OnMessage(func(msg domain.InboundMessage) {
			r.Dispatch(ctx, msg)
		})
		ch.OnLeave(func(ev domain.LeaveEvent) {
			r.DispatchLeave(ctx, ev)
		})
		r.log.Debug().Str("channel", ch.ID()).Msg("wired message handlers")
	})
	if hk != nil {
		hk.On(hooks.EventImageReady, "router", r.OnImageReady)
	}
}

func (r *Router) share(ctx context.Context, msg domain.InboundMessage, id string) {
	if r.publisher == nil {
		r.reply(ctx, msg, NoticeShareFailed)
		return
	}
	st, err := r.designs.Snapshot(ctx, id)
	if err != nil {
		r.log.Error().Err(err).Str("conversation", id).Msg("state lookup failed")
		r.reply(ctx, msg, NoticeShareFailed)
		return
	}

	res, err := r.publisher.Share(ctx, id, st)
	switch {
	case errors.Is(err, publish.ErrNothingToShare):
		r.reply(ctx, msg, NoticeNothingToShare)
		return
	case err != nil && res == nil:
		r.log.Error().Err(err).Str("conversation", id).Msg("share failed")
		r.reply(ctx, msg, NoticeShareFailed)
		return
	case err != nil:
		r.log.Error().Err(err).Str("conversation", id).Msg("pinning failed")
	}

	if r.opts.ShareChannel != "" {
		post := fmt.Sprintf("Shared by %s\n%s", msg.From, strings.Join(res.Post.Lines(), "\n"))
		if serr := r.channels.Send(ctx, domain.OutboundMessage{
			ChannelID: msg.ChannelID,
			To:        r.opts.ShareChannel,
			Body:      post,
		}); serr != nil {
			r.log.Error().Err(serr).Str("to", r.opts.ShareChannel).Msg("failed to post shared design")
			r.reply(ctx, msg, NoticeShareFailed)
			return
		}
	}

	lines := []string{NoticeShared}
	if res.PinURL != "" {
		lines = append(lines, "JSON uploaded to Pinata! You can view it at: "+res.PinURL)
	}
	r.reply(ctx, msg, strings.Join(lines, "\n"))
}

func (r *Router) reply(ctx context.Context, msg domain.InboundMessage, body string) {
	if body == "" {
		return
	}
	out := domain.OutboundMessage{
		ChannelID: msg.ChannelID,
		To:        replyTarget(msg),
		Body:      r.address(msg.ChatID, msg.From, body),
	}
	if err := r.channels.Send(ctx, out); err != nil {
		r.log.Error().Err(err).
			Str("channel", out.ChannelID).
			Str("to", out.To).
			Msg("failed to send reply")
	}
}

// address prefixes group chat replies with the user's nick.
func (r *Router) address(chatID, user, body string) string {
	if chatID == user {
		return body
	}
	return user + ": " + body
}

func (r *Router) track(key domain.ConversationKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := key.ChannelID + ":" + key.User
	if r.active[u] == nil {
		r.active[u] = make(map[string]struct{})
	}
	r.active[u][key.String()] = struct{}{}
}

func (r *Router) untrack(key domain.ConversationKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := key.ChannelID + ":" + key.User
	delete(r.active[u], key.String())
	if len(r.active[u]) == 0 {
		delete(r.active, u)
	}
}

func (r *Router) untrackUser(channelID, user string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := channelID + ":" + user
	ids := make([]string, 0, len(r.active[u]))
	for id := range r.active[u] {
		ids = append(ids, id)
	}
	delete(r.active, u)
	return ids
}

// replyTarget determines where to send the response.
func replyTarget(msg domain.InboundMessage) string {
	if msg.ChatType == domain.ChatTypeDM {
		return msg.From
	}
	return msg.ChatID
}
