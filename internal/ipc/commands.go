package ipc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/panehost/internal/errors"
	"github.com/Iron-Ham/panehost/internal/ownership"
	"github.com/Iron-Ham/panehost/internal/terminal"
	"github.com/Iron-Ham/panehost/internal/watch"
)

// Command channels accepted from renderers.
const (
	ChannelPTYCreate   = "pty:create"
	ChannelPTYWrite    = "pty:write"
	ChannelPTYResize   = "pty:resize"
	ChannelPTYKill     = "pty:kill"
	ChannelPTYList     = "pty:list"
	ChannelFSWatch     = "fs:watch"
	ChannelFSUnwatch   = "fs:unwatch"
	ChannelFSList      = "fs:list"
	ChannelWindowClose = "window:close"
	ChannelProfileList = "profile:list"
	ChannelProfileOpen = "profile:open"
)

// handlerFunc runs one command on behalf of windowID.
type handlerFunc func(ctx context.Context, windowID string, args json.RawMessage) (any, error)

func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		ChannelPTYCreate:   s.ptyCreate,
		ChannelPTYWrite:    s.ptyWrite,
		ChannelPTYResize:   s.ptyResize,
		ChannelPTYKill:     s.ptyKill,
		ChannelPTYList:     s.ptyList,
		ChannelFSWatch:     s.fsWatch,
		ChannelFSUnwatch:   s.fsUnwatch,
		ChannelFSList:      s.fsList,
		ChannelWindowClose: s.windowClose,
		ChannelProfileList: s.profileList,
		ChannelProfileOpen: s.profileOpen,
	}
}

// pending is returned by handlers whose work finishes in the background. The
// response is sent once done is closed.
type pending struct {
	done <-chan struct{}
}

// Dispatch runs req for windowID and builds its response. Handler failures,
// including panics, become error responses. Dispatch returns once the command
// has fully completed.
func (s *Server) Dispatch(ctx context.Context, windowID string, req Request) Response {
	resp, wait := s.dispatch(ctx, windowID, req)
	if wait != nil {
		<-wait
	}
	return resp
}

// dispatch is Dispatch without waiting for background work. When wait is
// non-nil the response must not be sent before it is closed.
func (s *Server) dispatch(ctx context.Context, windowID string, req Request) (Response, <-chan struct{}) {
	resp := Response{Seq: req.Seq}

	handler, ok := s.handlers[req.Channel]
	if !ok {
		return failure(resp, errors.NewValidationError("unknown channel").WithField("channel").WithValue(req.Channel)), nil
	}
	if !s.core.Windows.IsLive(windowID) {
		return failure(resp, errors.NewNotFoundError("window", windowID).WithCause(errors.ErrWindowClosing)), nil
	}

	var (
		result any
		err    error
	)
	recovered := panics.Try(func() { result, err = handler(ctx, windowID, req.Args) })
	if recovered != nil {
		s.logger.WithWindow(windowID).Error("command handler panicked",
			"channel", req.Channel, "panic", recovered.String())
		return failure(resp, fmt.Errorf("handler for %s panicked: %v", req.Channel, recovered.Value)), nil
	}
	if err != nil {
		s.logger.WithWindow(windowID).Debug("command failed", "channel", req.Channel, "error", err)
		if errors.Is(err, errors.ErrWindowClosing) {
			err = errors.NewNotFoundError("window", windowID).WithCause(errors.ErrWindowClosing)
		}
		return failure(resp, err), nil
	}

	resp.OK = true
	if p, ok := result.(pending); ok {
		return resp, p.done
	}
	resp.Result = result
	return resp, nil
}

func failure(resp Response, err error) Response {
	resp.OK = false
	resp.Error = &ErrorBody{Kind: errors.Kind(err), Message: err.Error()}
	return resp
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errors.NewValidationError("malformed arguments").WithField("args").WithCause(err)
	}
	return v, nil
}

// owns reports whether windowID may act on the resource. Ids nobody owns
// pass through so the registries can treat them as unknown.
func (s *Server) owns(kind ownership.Kind, id, windowID string) bool {
	owner, ok := s.core.Index.Owner(kind, id)
	return !ok || owner == windowID
}

func (s *Server) ptyCreate(ctx context.Context, windowID string, raw json.RawMessage) (any, error) {
	args, err := decode[ptyCreateArgs](raw)
	if err != nil {
		return nil, err
	}
	return s.core.Terminals.Create(ctx, terminal.Options{
		ID:       args.ID,
		WindowID: windowID,
		Cwd:      args.Cwd,
		Command:  args.Command,
		Args:     args.Args,
		Env:      args.Env,
		Cols:     args.Cols,
		Rows:     args.Rows,
	})
}

func (s *Server) ptyWrite(_ context.Context, windowID string, raw json.RawMessage) (any, error) {
	args, err := decode[ptyWriteArgs](raw)
	if err != nil || !s.owns(ownership.KindPTY, args.ID, windowID) {
		return nil, err
	}
	return nil, s.core.Terminals.Write(args.ID, args.payload())
}

func (s *Server) ptyResize(_ context.Context, windowID string, raw json.RawMessage) (any, error) {
	args, err := decode[ptyResizeArgs](raw)
	if err != nil || !s.owns(ownership.KindPTY, args.ID, windowID) {
		return nil, err
	}
	return nil, s.core.Terminals.Resize(args.ID, args.Cols, args.Rows)
}

func (s *Server) ptyKill(_ context.Context, windowID string, raw json.RawMessage) (any, error) {
	args, err := decode[idArgs](raw)
	if err != nil || !s.owns(ownership.KindPTY, args.ID, windowID) {
		return nil, err
	}
	return pending{done: s.core.Terminals.StartKill(args.ID)}, nil
}

func (s *Server) ptyList(_ context.Context, windowID string, _ json.RawMessage) (any, error) {
	out := []terminal.Info{}
	for _, info := range s.core.Terminals.List() {
		if info.WindowID == windowID {
			out = append(out, info)
		}
	}
	return out, nil
}

func (s *Server) fsWatch(_ context.Context, windowID string, raw json.RawMessage) (any, error) {
	args, err := decode[fsWatchArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := s.core.Watches.Watch(args.ID, windowID, args.Path); err != nil {
		return nil, err
	}
	info, _ := s.core.Watches.Get(args.ID)
	return info, nil
}

func (s *Server) fsUnwatch(_ context.Context, windowID string, raw json.RawMessage) (any, error) {
	args, err := decode[idArgs](raw)
	if err != nil || !s.owns(ownership.KindWatch, args.ID, windowID) {
		return nil, err
	}
	return nil, s.core.Watches.Unwatch(args.ID)
}

func (s *Server) fsList(_ context.Context, windowID string, _ json.RawMessage) (any, error) {
	out := []watch.Info{}
	for _, info := range s.core.Watches.List() {
		if info.WindowID == windowID {
			out = append(out, info)
		}
	}
	return out, nil
}

// windowClose closes the requesting window after its response has been
// queued. The close tears down this connection.
func (s *Server) windowClose(ctx context.Context, windowID string, _ json.RawMessage) (any, error) {
	afterResponse(ctx, func() { s.core.Windows.Close(windowID) })
	return nil, nil
}

type afterKey struct{}

// withAfterResponse returns a context collecting work to run once the
// current response is queued.
func withAfterResponse(ctx context.Context) (context.Context, *[]func()) {
	hooks := new([]func())
	return context.WithValue(ctx, afterKey{}, hooks), hooks
}

// afterResponse defers fn until the response is queued, or runs it now when
// ctx carries no hook list.
func afterResponse(ctx context.Context, fn func()) {
	if hooks, ok := ctx.Value(afterKey{}).(*[]func()); ok {
		*hooks = append(*hooks, fn)
		return
	}
	fn()
}

func (s *Server) profileList(context.Context, string, json.RawMessage) (any, error) {
	return s.core.Profiles.Open(), nil
}

func (s *Server) profileOpen(_ context.Context, _ string, raw json.RawMessage) (any, error) {
	args, err := decode[profileArgs](raw)
	if err != nil {
		return nil, err
	}
	id, err := s.core.Profiles.OpenOrFocus(args.ProfileID)
	if err != nil {
		return nil, err
	}
	return OpenResult{WindowID: id}, nil
}
