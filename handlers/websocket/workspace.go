package websocket

import (
	"fmt"
	"reflect"
	"regexp"

	"promptcanvas/canvas"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const (
	EventWorkspaceUpdate = "workspace-update"
	EventPromptEdit      = "prompt-edit"
	EventSelectSlot      = "select-slot"
)

type (
	// Engine is the part of canvas.Workspace the socket drives.
	Engine interface {
		Snapshot() canvas.Snapshot
		OnChange(fn func())
		OnPromptEdit(id canvas.SlotID, prompt string) error
		SelectSlot(id canvas.SlotID) error
	}

	emitter interface {
		Emit(ev string, args ...any) error
	}

	ackInvoker func(err error, payload map[string]any)
)

// publish sends the current snapshot to out.
func publish(out emitter, engine Engine) {
	if err := out.Emit(EventWorkspaceUpdate, engine.Snapshot()); err != nil {
		logrus.WithField("error", err).Warn("Failed to emit workspace update")
	}
}

// SetupSocketIO returns a socket.io server that pushes a workspace snapshot on
// connect and after every change, and accepts prompt edits and selection.
func SetupSocketIO(engine Engine) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(1000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin:      []any{localhostOrigin},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	engine.OnChange(func() { publish(srv.Sockets(), engine) })

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		log := logrus.WithField("socket", socket.Id())
		log.Debug("Client connected")
		publish(socket, engine)

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(EventPromptEdit, func(datas ...any) {
			ack, args := extractAck(datas)
			id, prompt, err := parsePromptEdit(args)
			if err == nil {
				err = engine.OnPromptEdit(id, prompt)
			}
			respond(ack, err)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(EventSelectSlot, func(datas ...any) {
			ack, args := extractAck(datas)
			id, err := parseSlotID(args)
			if err == nil {
				err = engine.SelectSlot(id)
			}
			respond(ack, err)
		})

		socket.On("disconnect", func(datas ...any) {
			log.Debug("Client disconnected")
			socket.RemoveAllListeners("")
		})
	})

	return srv
}

// parsePromptEdit reads {id, prompt} or (id, prompt). An empty id targets the
// selected slot.
func parsePromptEdit(args []any) (canvas.SlotID, string, error) {
	if len(args) == 0 {
		return canvas.SlotID{}, "", fmt.Errorf("prompt is required")
	}
	if m, ok := args[0].(map[string]any); ok {
		prompt, ok := m["prompt"].(string)
		if !ok {
			return canvas.SlotID{}, "", fmt.Errorf("prompt is required")
		}
		id, _ := m["id"].(string)
		return canvas.ParseSlotID(id), prompt, nil
	}
	if len(args) < 2 {
		return canvas.SlotID{}, "", fmt.Errorf("prompt is required")
	}
	id, ok1 := args[0].(string)
	prompt, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return canvas.SlotID{}, "", fmt.Errorf("invalid prompt edit")
	}
	return canvas.ParseSlotID(id), prompt, nil
}

func parseSlotID(args []any) (canvas.SlotID, error) {
	if len(args) == 0 {
		return canvas.SlotID{}, fmt.Errorf("slot id is required")
	}
	id, ok := args[0].(string)
	if !ok || id == "" {
		return canvas.SlotID{}, fmt.Errorf("invalid slot id")
	}
	return canvas.ParseSlotID(id), nil
}

func respond(ack ackInvoker, err error) {
	if ack == nil {
		if err != nil {
			logrus.WithField("error", err).Warn("Socket request failed")
		}
		return
	}
	payload := map[string]any{"status": "ok"}
	if err != nil {
		payload["status"] = "error"
		payload["error"] = err.Error()
	}
	ack(err, payload)
}

// extractAck splits a trailing acknowledgement callback off the event args.
func extractAck(datas []any) (ackInvoker, []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	ack := wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

// wrapAck adapts any callback shape socket.io hands us. One parameter gets the
// error or the payload, two get (payload, error) or (error, payload) by type.
func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}
	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}
	typ := value.Type()
	errType := reflect.TypeOf((*error)(nil)).Elem()

	return func(err error, payload map[string]any) {
		args := make([]reflect.Value, typ.NumIn())
		for i := range args {
			param := typ.In(i)
			var v any = payload
			switch {
			case param == errType:
				v = err
			case param.Kind() == reflect.Slice:
				v = []any{payload}
			case typ.NumIn() == 1 && err != nil:
				v = err.Error()
			}
			args[i] = coerce(v, param)
		}
		if typ.IsVariadic() {
			value.CallSlice(args)
			return
		}
		value.Call(args)
	}
}

func coerce(v any, target reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(target)
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(target):
		return rv
	case rv.Type().ConvertibleTo(target):
		return rv.Convert(target)
	}
	return reflect.Zero(target)
}
