package renkei

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// The codec handles the motor's line-oriented JSON protocol:
//
//	request:  {"cmd": "<NAME>", "params": {...}}\n
//	response: {"response": "<NAME>", "data": {...}}\n
//	push:     {"event": "<TYPE>", "data": {...}}\n
//
// Pushes occasionally arrive with a "response" key instead of "event";
// the dispatcher treats any inbound name with no pending waiter that
// matches a known push discriminator as an event.

// wireRequest is the outbound frame shape.
type wireRequest struct {
	Cmd    string         `json:"cmd"`
	Params map[string]any `json:"params"`
}

// frame is a decoded inbound frame. Exactly one of Response or Event is
// set; Data is left raw so waiters can decode into their own types.
type frame struct {
	Response string          `json:"response"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// encodeCommand serialises a command to its newline-terminated wire form.
func encodeCommand(cmd Command) ([]byte, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("%w: empty command name", ErrInvalidFrame)
	}
	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(wireRequest{Cmd: cmd.Name, Params: params})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %s: %w", ErrInvalidFrame, cmd.Name, err)
	}
	return append(payload, '\n'), nil
}

// decodeFrame parses one newline-delimited inbound line.
//
// A malformed line yields an error wrapping ErrInvalidFrame; the caller
// logs and drops it. Because framing is per line, a bad frame never
// corrupts parsing of the next one.
func decodeFrame(line []byte) (frame, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return frame{}, fmt.Errorf("%w: empty line", ErrInvalidFrame)
	}

	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		return frame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if f.Response == "" && f.Event == "" {
		return frame{}, fmt.Errorf("%w: no response or event key", ErrInvalidFrame)
	}
	return f, nil
}

// name returns the frame's discriminator regardless of which key carried it.
func (f frame) name() string {
	if f.Response != "" {
		return f.Response
	}
	return f.Event
}

// decodeStatus decodes a data payload into a MotorStatus snapshot.
// Fields absent from the payload are left zero.
func decodeStatus(data json.RawMessage) (MotorStatus, error) {
	var status MotorStatus
	if len(data) == 0 {
		return status, nil
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return MotorStatus{}, fmt.Errorf("%w: status data: %w", ErrInvalidFrame, err)
	}
	return status, nil
}

// decodeInfo decodes a GET_INFO data payload.
func decodeInfo(data json.RawMessage) (MotorInfo, error) {
	var info MotorInfo
	if len(data) == 0 {
		return info, nil
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return MotorInfo{}, fmt.Errorf("%w: info data: %w", ErrInvalidFrame, err)
	}
	return info, nil
}

// decodeDeviceError extracts a DeviceError from an ERROR frame's data.
// The controller sends the code as a JSON string ("102"); a bare number
// is accepted too.
func decodeDeviceError(data json.RawMessage) *DeviceError {
	var payload struct {
		Code        json.RawMessage `json:"code"`
		Description string          `json:"description"`
	}
	devErr := &DeviceError{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return devErr
	}
	devErr.Description = payload.Description

	raw := bytes.Trim(bytes.TrimSpace(payload.Code), `"`)
	if code, err := strconv.Atoi(string(raw)); err == nil {
		devErr.Code = code
	}
	return devErr
}
