// Package mcpserver registers MCP tools that expose the chat client.
// It adapts the app package to the MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alexjbarnes/pairchat/internal/chat"
	"github.com/alexjbarnes/pairchat/internal/cloudsync"
	apperrors "github.com/alexjbarnes/pairchat/internal/errors"
	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// defaultThreadLimit is how many trailing messages chat_thread returns
// when no limit is given.
const defaultThreadLimit = 50

// Chat is the part of *app.Client the tools use.
type Chat interface {
	Identity() *models.Identity
	Peer() string
	SelectPeer(ctx context.Context, peer string) error
	Send(text string) (*models.Message, error)
	ThreadWith(peer string) []models.Message
	Recent() []chat.Summary
	SyncNow(ctx context.Context) error
	Status() (cloudsync.Status, error)
	NeedsManualSync() bool
}

// RegisterTools adds all chat tools to the given MCP server.
func RegisterTools(server *mcp.Server, c Chat) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_whoami",
		Description: "Show the signed-in account, the selected peer, and the cloud sync status.",
	}, whoamiHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_recent",
		Description: "List conversations of the signed-in account, most recent first, with the last message of each.",
	}, recentHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_thread",
		Description: "Read the conversation with a peer, oldest first. Defaults to the selected peer and the last 50 messages.",
	}, threadHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_select_peer",
		Description: "Select the peer that chat_send writes to. The address is normalized to lower case.",
	}, selectPeerHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_send",
		Description: "Send a message to the selected peer, or to the given peer after selecting it. The message is saved locally at once and uploaded in the background.",
	}, sendHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "chat_sync",
		Description: "Pull the chat history from cloud storage now. May open a browser window to authorize access.",
	}, syncHandler(c))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// WhoamiInput has no parameters.
type WhoamiInput struct{}

// RecentInput has no parameters.
type RecentInput struct{}

// ThreadInput holds parameters for chat_thread.
type ThreadInput struct {
	Peer  string `json:"peer,omitempty" jsonschema:"peer address, defaults to the selected peer"`
	Limit int    `json:"limit,omitempty" jsonschema:"number of trailing messages to return, defaults to 50"`
}

// SelectPeerInput holds parameters for chat_select_peer.
type SelectPeerInput struct {
	Peer string `json:"peer" jsonschema:"required,peer address, empty to clear the selection"`
}

// SendInput holds parameters for chat_send.
type SendInput struct {
	Text string `json:"text" jsonschema:"required,message text"`
	Peer string `json:"peer,omitempty" jsonschema:"peer address, defaults to the selected peer"`
}

// SyncInput has no parameters.
type SyncInput struct{}

// --- Output types ---

// WhoamiResult describes the current session.
type WhoamiResult struct {
	SignedIn        bool             `json:"signed_in"`
	Identity        *models.Identity `json:"identity,omitempty"`
	Peer            string           `json:"peer,omitempty"`
	Status          cloudsync.Status `json:"status"`
	LastError       string           `json:"last_error,omitempty"`
	NeedsManualSync bool             `json:"needs_manual_sync"`
}

// RecentResult lists conversations.
type RecentResult struct {
	Conversations []chat.Summary `json:"conversations"`
}

// ThreadResult is one conversation.
type ThreadResult struct {
	Peer     string           `json:"peer"`
	Total    int              `json:"total"`
	Messages []models.Message `json:"messages"`
}

// SelectPeerResult echoes the selection.
type SelectPeerResult struct {
	Peer string `json:"peer"`
}

// SendResult is the stored message.
type SendResult struct {
	Message *models.Message `json:"message"`
}

// SyncResult reports the outcome of a sync.
type SyncResult struct {
	Status  cloudsync.Status `json:"status"`
	Message string           `json:"message"`
}

// --- Handlers ---

func whoamiHandler(c Chat) mcp.ToolHandlerFor[WhoamiInput, *WhoamiResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ WhoamiInput) (*mcp.CallToolResult, *WhoamiResult, error) {
		status, lastErr := c.Status()
		id := c.Identity()

		result := &WhoamiResult{
			SignedIn:        id != nil,
			Identity:        id,
			Peer:            c.Peer(),
			Status:          status,
			NeedsManualSync: c.NeedsManualSync(),
		}
		if lastErr != nil {
			result.LastError = cloudsync.Describe(lastErr)
		}

		return textResult(result), result, nil
	}
}

func recentHandler(c Chat) mcp.ToolHandlerFor[RecentInput, *RecentResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ RecentInput) (*mcp.CallToolResult, *RecentResult, error) {
		if c.Identity() == nil {
			return nil, nil, apperrors.ErrNotSignedIn
		}

		result := &RecentResult{Conversations: c.Recent()}
		if result.Conversations == nil {
			result.Conversations = []chat.Summary{}
		}

		return textResult(result), result, nil
	}
}

func threadHandler(c Chat) mcp.ToolHandlerFor[ThreadInput, *ThreadResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ThreadInput) (*mcp.CallToolResult, *ThreadResult, error) {
		if c.Identity() == nil {
			return nil, nil, apperrors.ErrNotSignedIn
		}

		peer := chat.NormalizeID(input.Peer)
		if peer == "" {
			peer = c.Peer()
		}

		if peer == "" {
			return nil, nil, apperrors.ErrNoPeer
		}

		limit := input.Limit
		if limit <= 0 {
			limit = defaultThreadLimit
		}

		msgs := c.ThreadWith(peer)
		result := &ThreadResult{Peer: peer, Total: len(msgs)}

		if len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}

		result.Messages = msgs

		return textResult(result), result, nil
	}
}

func selectPeerHandler(c Chat) mcp.ToolHandlerFor[SelectPeerInput, *SelectPeerResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SelectPeerInput) (*mcp.CallToolResult, *SelectPeerResult, error) {
		if err := c.SelectPeer(ctx, input.Peer); err != nil {
			return nil, nil, err
		}

		result := &SelectPeerResult{Peer: c.Peer()}

		return textResult(result), result, nil
	}
}

func sendHandler(c Chat) mcp.ToolHandlerFor[SendInput, *SendResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SendInput) (*mcp.CallToolResult, *SendResult, error) {
		if strings.TrimSpace(input.Text) == "" {
			return nil, nil, fmt.Errorf("text must not be empty")
		}

		if input.Peer != "" && chat.NormalizeID(input.Peer) != c.Peer() {
			if err := c.SelectPeer(ctx, input.Peer); err != nil {
				return nil, nil, err
			}
		}

		msg, err := c.Send(input.Text)
		if err != nil {
			return nil, nil, err
		}

		result := &SendResult{Message: msg}

		return textResult(result), result, nil
	}
}

func syncHandler(c Chat) mcp.ToolHandlerFor[SyncInput, *SyncResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ SyncInput) (*mcp.CallToolResult, *SyncResult, error) {
		if err := c.SyncNow(ctx); err != nil {
			return nil, nil, err
		}

		status, _ := c.Status()
		result := &SyncResult{Status: status, Message: "Chat history is up to date."}

		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
