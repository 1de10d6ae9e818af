/*
 * Lingualink
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package inference

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"

	"github.com/gravitational/lingualink/lib/balancer"
)

// ChatMessage is one entry of the messages array. Content is either a plain
// string (system messages) or an ordered []ContentPart (user messages).
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multimodal user message.
type ContentPart struct {
	Type string `json:"type"`
	// Text is set when Type is "text".
	Text string `json:"text,omitempty"`
	// InputAudio is set when Type is "input_audio".
	InputAudio *InputAudio `json:"input_audio,omitempty"`
}

// InputAudio is an inlined audio clip.
type InputAudio struct {
	// Data is the clip, base64 encoded.
	Data string `json:"data"`
	// Format names the container; always "wav" here.
	Format string `json:"format"`
}

// ChatRequest is the chat-completions request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// ChatResponse is the subset of the chat-completions response we consume.
type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Content returns the first choice's text, or empty.
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// upstreamClient speaks the OpenAI-compatible surface of one backend.
type upstreamClient struct {
	clt *roundtrip.Client
}

// newUpstreamClient builds a client for the backend. The base URL is
// normalized so the wire path carries exactly one /v1 prefix regardless of
// how the backend URL was written.
func newUpstreamClient(cfg balancer.Config) (*upstreamClient, error) {
	clt, err := roundtrip.NewClient(cfg.BaseURL(), "v1",
		roundtrip.HTTPClient(&http.Client{Timeout: cfg.Timeout}),
		roundtrip.BearerAuth(cfg.APIKey),
	)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &upstreamClient{clt: clt}, nil
}

// ChatCompletions posts one inference request and decodes the reply.
func (c *upstreamClient) ChatCompletions(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := c.clt.PostJSON(ctx, c.clt.Endpoint("chat", "completions"), req)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "chat completions call failed")
	}
	if resp.Code() < 200 || resp.Code() > 299 {
		return nil, trace.ReadError(resp.Code(), resp.Bytes())
	}
	var out ChatResponse
	if err := json.Unmarshal(resp.Bytes(), &out); err != nil {
		return nil, trace.BadParameter("malformed chat completions response: %v", err)
	}
	return &out, nil
}
