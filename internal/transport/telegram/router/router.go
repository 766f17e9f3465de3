// Package router consumes transport updates and dispatches them to command
// and callback handlers through a bounded worker pool. Handlers run behind
// a middleware chain (panic recovery, request logging, per-route timeout).
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	rtsup "newsbot/internal/runtime/supervisor"
	kit "newsbot/internal/transport"
	"newsbot/pkg/logx"
	"newsbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string // without the leading slash
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Command  string
	Args     []string
	Payload  string
	ReqID    string

	Adapter kit.Adapter
	Logger  logx.Logger
}

const (
	msgUnknownCommand = "Unknown command. Try /help."
	msgUnauthorized   = "This command is restricted."
	msgBusy           = "Busy, try again in a moment."
)

type Router struct {
	mu       sync.RWMutex
	commands map[string]Command
	ordered  []string // registration order, for /help and the menu
	cbs      map[string]map[string]CallbackRoute // scope -> action -> route
	owners   []int64

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		commands: map[string]Command{},
		cbs:      map[string]map[string]CallbackRoute{},
		owners:   append([]int64(nil), owners...),
		log:      log,
		adapter:  adapter,
		jobs:     make(chan func(), 256),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks. Safe
// to call during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int64(nil), r.owners...)
}

// SetRegistry installs the command and callback tables, replacing any
// previous registration, and pushes the command menu to the platform.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	table := map[string]Command{}
	order := make([]string, 0, len(cmds))
	for _, c := range cmds {
		name := strings.TrimPrefix(strings.TrimSpace(c.Name), "/")
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := table[name]; !dup {
			order = append(order, name)
		}
		c.Name = name
		table[name] = c
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, rt := range cbs {
		scope := strings.TrimSpace(rt.Scope)
		action := strings.TrimSpace(rt.Action)
		if scope == "" || action == "" || rt.Handle == nil {
			continue
		}
		if cb[scope] == nil {
			cb[scope] = map[string]CallbackRoute{}
		}
		cb[scope][action] = rt
	}

	r.mu.Lock()
	r.commands = table
	r.ordered = order
	r.cbs = cb
	r.mu.Unlock()

	// Best-effort platform menu update, off the caller's path.
	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := r.menuCommands()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				r.log.Debug("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.ordered))
	for _, name := range r.ordered {
		out = append(out, r.commands[name])
	}
	return out
}

func (r *Router) menuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, 16)
	for _, c := range r.Commands() {
		if c.Access == AccessOwnerOnly {
			continue
		}
		d := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if d == "" {
			d = c.Name
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: d})
	}
	return out
}

// tryEnqueue is a panic-safe enqueue (handles the jobs channel closing
// during shutdown).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
// It owns a bounded worker pool so a slow handler never stalls routing.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	r.runMu.Lock()
	r.sup = sup
	r.running = true
	r.runMu.Unlock()

	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.runMu.Lock()
			r.running = false
			r.runMu.Unlock()
			close(r.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.Go0("worker."+strconv.Itoa(idx), func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					if job == nil {
						continue
					}
					// Middleware already recovers; this keeps the worker
					// alive if a job panics outside the chain.
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in dispatch job",
									logx.Int("worker", idx),
									logx.Any("panic", rec),
									logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		})
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				r.log.Info("updates channel closed")
				return nil
			}
			r.routeUpdate(ctx, up)
		}
	}
}

func (r *Router) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(root, up)
	case kit.UpdateCallback:
		r.routeCallback(root, up)
	}
}

func (r *Router) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	args := parts[1:]

	r.mu.RLock()
	cmd, ok := r.commands[word]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug("unknown command", logx.String("cmd", word), logx.Int64("chat_id", msg.ChatID))
		_, _ = r.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID}, msgUnknownCommand, nil)
		return
	}

	owners := r.ownersSnapshot()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = r.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID}, msgUnauthorized, nil)
		return
	}

	rid := xid.New().String()
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: msg.ChatID},
		FromID:   msg.FromID,
		FromName: msg.FromName,
		Command:  cmd.Name,
		Args:     args,
		ReqID:    rid,
		Adapter:  r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(cmd.Timeout),
	)
	if !r.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = r.adapter.SendText(root, req.Chat, msgBusy, nil)
	}
}

func (r *Router) routeCallback(root context.Context, up kit.Update) {
	if up.Callback == nil {
		return
	}
	cb := up.Callback
	scope, action, payload, ok := tgui.Split(cb.Data)
	if !ok {
		r.log.Debug("malformed callback data", logx.String("data", cb.Data))
		_ = r.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	r.mu.RLock()
	route, found := r.cbs[scope][action]
	r.mu.RUnlock()
	if !found {
		r.log.Debug("unroutable callback", logx.String("scope", scope), logx.String("action", action))
		_ = r.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	owners := r.ownersSnapshot()
	if route.Access == AccessOwnerOnly && !isOwner(cb.FromID, owners) {
		_ = r.adapter.AnswerCallback(root, cb.ID, "forbidden")
		return
	}

	rid := xid.New().String()
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: cb.ChatID},
		FromID:   cb.FromID,
		FromName: cb.FromName,
		Command:  "cb:" + scope + ":" + action,
		Payload:  payload,
		ReqID:    rid,
		Adapter:  r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", "cb:"+scope+":"+action),
		),
	}

	h := func(ctx context.Context, rq *Request) error { return route.Handle(ctx, rq, payload) }
	final := Chain(
		h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(route.Timeout),
	)
	if !r.tryEnqueue(func() {
		_ = final(root, req)
		// Stop the client's "loading" spinner when the handler did not.
		_ = r.adapter.AnswerCallback(root, cb.ID, "")
	}) {
		_ = r.adapter.AnswerCallback(root, cb.ID, "busy")
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
