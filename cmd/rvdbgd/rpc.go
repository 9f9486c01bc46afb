package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/sourcegraph/jsonrpc2"

	"rvdbg/hart"
	"rvdbg/internal/logging"
)

var rpcLog = logging.For("rpc")

// handler dispatches the scripted/manual command surface of SPEC_FULL.md §3
// onto one hart.Session, the same method-per-RPC-call shape as
// danielcbailey-RISC-V-Emulator's languageServer.handler.Handle.
type handler struct {
	session *hart.Session
}

type readMemoryParams struct {
	Base  uint64 `json:"base"`
	Size  int    `json:"size"`
	Count int    `json:"count"`
}

type writeMemoryParams struct {
	Base uint64 `json:"base"`
	Size int    `json:"size"`
	Data []byte `json:"data"`
}

type breakpointParams struct {
	ID      uint64 `json:"id"`
	Address uint64 `json:"address"`
}

type watchpointParams struct {
	ID      uint64 `json:"id"`
	Address uint64 `json:"address"`
	Read    bool   `json:"read"`
	Write   bool   `json:"write"`
}

type idParams struct {
	ID uint64 `json:"id"`
}

type resetParams struct {
	HaltOnReset bool `json:"haltOnReset"`
}

type stepParams struct {
	Step bool `json:"step"`
}

func (h handler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	rpcLog.WithField("method", req.Method).Debug("handling rpc request")

	result, err := h.dispatch(req)
	if err != nil {
		rpcErr := &jsonrpc2.Error{Message: err.Error()}
		if replyErr := conn.ReplyWithError(ctx, req.ID, rpcErr); replyErr != nil {
			rpcLog.WithField("err", replyErr).Error("failed to reply with error")
		}
		return
	}
	if !req.Notif {
		if err := conn.Reply(ctx, req.ID, result); err != nil {
			rpcLog.WithField("err", err).Error("failed to reply")
		}
	}
}

func (h handler) dispatch(req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case "examine":
		return nil, h.session.Examine()
	case "poll":
		return nil, h.session.Poll()
	case "halt":
		return nil, h.session.Halt()
	case "resume":
		var p stepParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return nil, h.session.Resume(p.Step)
	case "step":
		return nil, h.session.Step()
	case "assertReset":
		var p resetParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return nil, h.session.AssertReset(p.HaltOnReset)
	case "deassertReset":
		var p resetParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return nil, h.session.DeassertReset(p.HaltOnReset)
	case "readMemory":
		var p readMemoryParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return h.session.ReadMemory(p.Base, p.Size, p.Count)
	case "writeMemory":
		var p writeMemoryParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return nil, h.session.WriteMemory(p.Base, p.Size, p.Data)
	case "getGDBRegList":
		return h.session.GetGDBRegList(), nil
	case "addBreakpoint":
		var p breakpointParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return nil, h.session.AddBreakpoint(p.ID, p.Address)
	case "removeBreakpoint":
		var p idParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return nil, h.session.RemoveBreakpoint(p.ID)
	case "addWatchpoint":
		var p watchpointParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return nil, h.session.AddWatchpoint(p.ID, p.Address, p.Read, p.Write)
	case "removeWatchpoint":
		var p idParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return nil, h.session.RemoveWatchpoint(p.ID)
	case "archState":
		return h.session.ArchState(), nil
	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}

func unmarshalParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return fmt.Errorf("method %q requires params", req.Method)
	}
	return json.Unmarshal(*req.Params, v)
}

// serveStdio runs the RPC handler over stdin/stdout, for a single scripted
// client driving the driver directly (the stdio half of
// danielcbailey-RISC-V-Emulator's ListenAndServe/ListenAndServeTCP duality).
func serveStdio(session *hart.Session) {
	h := handler{session: session}
	<-jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(stdrwc{}, jsonrpc2.VSCodeObjectCodec{}), h).DisconnectNotify()
}

// serveTCP runs the RPC handler over TCP, accepting one connection at a
// time sequentially — matching spec.md §5's single-threaded driver model,
// a second concurrent client would race the first on the same session.
func serveTCP(session *hart.Session, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	rpcLog.WithField("addr", addr).Info("rpc server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		h := handler{session: session}
		rpcConn := jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{}), h)
		<-rpcConn.DisconnectNotify()
	}
}

// stdrwc adapts stdin/stdout to io.ReadWriteCloser for jsonrpc2's stream
// codec, the same adapter danielcbailey-RISC-V-Emulator's languageServer
// package uses for its stdio transport.
type stdrwc struct{}

func (stdrwc) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdrwc) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdrwc) Close() error                { return nil }
