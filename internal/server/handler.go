package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

var validate = newValidator()

// newValidator reports fields by their JSON names so errors match what the
// browser sent.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// reply answers one command with a "<type>_result" message.
type reply struct {
	send chan<- any
	cmd  string
}

func replyTo(send chan<- any, cmd WSCommand) reply {
	return reply{send: send, cmd: cmd.Type}
}

func (r reply) ok(data any) {
	deliver(r.send, r.cmd, types.WSCommandResult{Type: r.cmd + "_result", Success: true, Data: data})
}

// fail reports err. Validation errors keep their per-field detail.
func (r reply) fail(err error) {
	verr := types.NewValidationError()
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		for _, fe := range fields {
			verr.Add(fe.Field(), fieldMessage(fe), fe.Value())
		}
	} else {
		verr.Add("", err.Error(), nil)
	}
	deliver(r.send, r.cmd, types.WSCommandResult{Type: r.cmd + "_result", Error: verr})
}

// async runs action in the background and replies with its outcome.
func (r reply) async(action func() (any, error)) {
	background(r.cmd, func() {
		result, err := action()
		if err != nil {
			r.fail(err)
			return
		}
		r.ok(result)
	}, func() { r.fail(errors.New("internal error")) })
}

// decode unmarshals and validates the command payload into dst. On failure
// it has already replied.
func decode[T any](cmd WSCommand, send chan<- any, dst *T) bool {
	if err := json.Unmarshal(cmd.Data, dst); err != nil {
		replyTo(send, cmd).fail(fmt.Errorf("invalid JSON: %w", err))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		replyTo(send, cmd).fail(err)
		return false
	}
	return true
}

// update decodes a settings payload, applies it and replies with the outcome.
func update[T any](cmd WSCommand, send chan<- any, apply func(*T) error) {
	var req T
	if !decode(cmd, send, &req) {
		return
	}
	if err := apply(&req); err != nil {
		replyTo(send, cmd).fail(err)
		return
	}
	replyTo(send, cmd).ok(nil)
}

// background runs fn in a goroutine, logging a panic and then running onPanic.
func background(name string, fn func(), onPanic func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in command handler", "command", name, "panic", r)
				if onPanic != nil {
					onPanic()
				}
			}
		}()
		fn()
	}()
}

// deliver queues msg for the client without blocking.
func deliver(send chan<- any, kind string, msg any) {
	select {
	case send <- msg:
	default:
		slog.Warn("dropping response, client queue full", "type", kind)
	}
}

var fieldMessages = map[string]string{
	"required":      "is required",
	"min":           "must be at least %s",
	"max":           "must be at most %s",
	"gte":           "must be greater than or equal to %s",
	"lte":           "must be less than or equal to %s",
	"url":           "must be a valid URL",
	"http_url":      "must be an http(s) URL",
	"email":         "must be a valid email address",
	"oneof":         "must be one of: %s",
	"hostname_port": "must be host:port",
}

func fieldMessage(fe validator.FieldError) string {
	msg, ok := fieldMessages[fe.Tag()]
	if !ok {
		return fmt.Sprintf("failed validation '%s'", fe.Tag())
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, fe.Param())
	}
	return msg
}
