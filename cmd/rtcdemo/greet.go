package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ray1422/mcprtc/toolrpc"
)

const greetSchema = `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`

func newToolServer() *toolrpc.Server {
	s := toolrpc.NewServer("rtcdemo", "0.1.0")
	if err := s.RegisterTool("greet", "Greets someone by name", json.RawMessage(greetSchema), greet); err != nil {
		panic(err)
	}
	return s
}

func greet(_ context.Context, args json.RawMessage) (*toolrpc.CallToolResult, error) {
	var p struct {
		Name string `json:"name"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, err
		}
	}
	if p.Name == "" {
		return nil, errors.New("name is required")
	}
	return toolrpc.TextResult(fmt.Sprintf("Hello, %s!", p.Name)), nil
}
