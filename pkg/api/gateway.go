package api

import "context"

// Channel defines the standardized lifecycle interface for transport adapters.
// A channel receives tool invocations from its platform, forwards them to the
// gateway and renders results back to the caller.
type Channel interface {
	ID() string
	Start(ctx ChannelContext) error
	Stop() error
	Send(session SessionContext, message string) error
	// SendResult renders a complete tool result (text blocks, images) back
	// to the originating session.
	SendResult(session SessionContext, res *ToolResult) error
}

// ChannelContext provides the interface for a Channel implementation to
// communicate back with the gateway core.
type ChannelContext interface {
	InvocationResponder
	OnInvocation(channelID string, inv *Invocation)
}

// InvocationResponder defines the capabilities for sending responses back to a channel.
type InvocationResponder interface {
	SendReply(session SessionContext, content string) error
	SendResult(session SessionContext, res *ToolResult) error
}

// Invocation is the standardized internal form of one tool call, regardless
// of which transport delivered it.
type Invocation struct {
	Session SessionContext   // Contextual information about the source (User, Chat)
	Tool    string           // Requested operation name, e.g. "generate_image"
	Args    map[string]any   // Raw argument map, validated by the dispatcher
	Files   []FileAttachment // Attachments accompanying the call (edit sources)
	Raw     any              // Optional storage for the original platform payload
}

// SessionContext encapsulates identity and routing information for a specific
// caller interaction stream on a specific channel.
type SessionContext struct {
	ChannelID string // Identifier of the channel that originated the session (e.g., "telegram")
	UserID    string // Platform-specific unique identifier for the user
	ChatID    string // Platform-specific identifier for the chat (may match UserID for DMs)
	Username  string // Display name as provided by the platform
}

// Key returns the stable session identifier used to look up session state.
func (s SessionContext) Key() string {
	return s.ChannelID + "_" + s.ChatID
}

// FileAttachment represents a single file or binary object uploaded by a caller.
type FileAttachment struct {
	Filename string // Original name of the uploaded file
	MimeType string // MIME type descriptor (e.g., "image/png")
	Data     []byte // Raw binary content (nil if Path is set)
	Path     string // Path to the saved file (omits need for Data)
}

// InvocationHandler defines the function signature for processing invocations.
type InvocationHandler func(*Invocation)

// OnInvocation allows InvocationHandler to satisfy the InvocationProcessor interface.
func (h InvocationHandler) OnInvocation(inv *Invocation) {
	h(inv)
}

// InvocationProcessor defines the interface for components that can process
// incoming invocations.
type InvocationProcessor interface {
	OnInvocation(inv *Invocation)
}

type sessionCtxKey struct{}

// WithSession stores the originating SessionContext in a context so tools can
// resolve per-session state without global variables.
func WithSession(ctx context.Context, session SessionContext) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, session)
}

// SessionFrom retrieves the SessionContext stored by WithSession.
func SessionFrom(ctx context.Context) (SessionContext, bool) {
	s, ok := ctx.Value(sessionCtxKey{}).(SessionContext)
	return s, ok
}
