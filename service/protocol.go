// Package service exposes the engine over TCP: a client sends a run
// request, the server runs every board size on in-process ranks and answers
// with the timing table.
package service

import (
	"encoding/json"
	"fmt"

	"github.com/najoast/lifegrid/network"
	"github.com/najoast/lifegrid/report"
)

// Response statuses
const (
	StatusOK    = "ok"
	StatusFail  = "fail"
	StatusError = "error"
)

// RunRequest asks for every board from 2^PowMin to 2^PowMax. Zero Ranks
// and Threads take the server's defaults.
type RunRequest struct {
	PowMin   int    `json:"powmin"`
	PowMax   int    `json:"powmax"`
	Ranks    int    `json:"ranks,omitempty"`
	Threads  int    `json:"threads,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// RunResponse answers one RunRequest. Data holds the rendered timing table.
type RunResponse struct {
	RequestID string              `json:"request_id"`
	Status    string              `json:"status"`
	Data      string              `json:"data,omitempty"`
	Error     string              `json:"error,omitempty"`
	Sizes     []report.SizeReport `json:"sizes,omitempty"`
}

func encodeRequest(req RunRequest, seq uint32) (*network.Message, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	msg := network.NewMessage(network.MessageTypeRunRequest, data)
	msg.Sequence = seq
	return msg, nil
}

func decodeRequest(msg *network.Message) (RunRequest, error) {
	var req RunRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return RunRequest{}, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

func encodeResponse(resp RunResponse, seq uint32) (*network.Message, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	msg := network.NewMessage(network.MessageTypeRunResponse, data)
	msg.Sequence = seq
	return msg, nil
}

func decodeResponse(msg *network.Message) (RunResponse, error) {
	var resp RunResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return RunResponse{}, fmt.Errorf("invalid response: %w", err)
	}
	return resp, nil
}
