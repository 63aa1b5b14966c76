package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/najoast/lifegrid/network"
)

// Client sends run requests to an engine service over one connection.
// Requests on the same Client are answered one at a time.
type Client struct {
	client network.Client
	conn   network.Connection

	mu  sync.Mutex
	seq uint32
}

// Dial connects to the engine service at address. A nil cfg uses the
// network defaults.
func Dial(ctx context.Context, address string, cfg *network.NetworkConfig) (*Client, error) {
	client, err := network.NewTCPClient(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := client.Connect(ctx, address)
	if err != nil {
		return nil, err
	}
	return &Client{client: client, conn: conn}, nil
}

// Request runs req on the server and waits for its response. Cancelling
// ctx closes the connection.
func (c *Client) Request(ctx context.Context, req RunRequest) (RunResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	msg, err := encodeRequest(req, c.seq)
	if err != nil {
		return RunResponse{}, err
	}
	if err := c.client.SendMessage(msg); err != nil {
		return RunResponse{}, fmt.Errorf("failed to send request: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		reply, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return RunResponse{}, ctx.Err()
			}
			return RunResponse{}, fmt.Errorf("failed to read response: %w", err)
		}

		switch reply.Type {
		case network.MessageTypeRunResponse:
			if reply.Sequence != c.seq {
				continue
			}
			return decodeResponse(reply)
		case network.MessageTypeError:
			return RunResponse{}, fmt.Errorf("server error: %s", reply.Data)
		}
	}
}

// Close disconnects from the server
func (c *Client) Close() error {
	return c.client.Disconnect()
}
