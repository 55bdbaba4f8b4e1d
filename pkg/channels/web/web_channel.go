package web

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"atelier/pkg/api"
	"atelier/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

type WebConfig struct {
	Port           int    `json:"port"`            // Default: 8080
	AttachmentsDir string `json:"attachments_dir"` // Default: data/attachments
}

// IncomingFrame is one tool call sent by the UI over the socket.
type IncomingFrame struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Images []struct {
		Name string `json:"name"`
		Mime string `json:"mime"`
		Data string `json:"data"` // Base64 encoded
	} `json:"images"`
}

type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

type WebChannel struct {
	config      WebConfig
	server      *http.Server
	connections map[string]*SafeConn // Map UserID -> WS Connection
	mu          sync.RWMutex
}

func NewWebChannel(cfg WebConfig) *WebChannel {
	return &WebChannel{
		config:      cfg,
		connections: make(map[string]*SafeConn),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})

	addr := fmt.Sprintf(":%d", c.config.Port)
	c.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("Web API listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web API server error", "error", err)
		}
	}()

	return nil
}

func (c *WebChannel) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *WebChannel) conn(session api.SessionContext) (*SafeConn, error) {
	c.mu.RLock()
	conn, ok := c.connections[session.UserID]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("web user %s not connected", session.UserID)
	}
	return conn, nil
}

func (c *WebChannel) Send(session api.SessionContext, message string) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}

	jsonData, err := json.Marshal(map[string]string{
		"type": "text",
		"text": message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal text frame: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, jsonData)
}

// SendResult renders a tool result as a sequence of JSON frames followed by
// a done marker, so the UI knows when one call is fully delivered.
func (c *WebChannel) SendResult(session api.SessionContext, res *api.ToolResult) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}

	for _, block := range res.Content {
		msg := map[string]any{
			"type": block.Type,
		}
		switch block.Type {
		case "image":
			data := block.Data
			if data == "" && block.Path != "" {
				fileData, rerr := os.ReadFile(block.Path)
				if rerr != nil {
					slog.Error("Failed to read local image for result", "path", block.Path, "error", rerr)
					continue
				}
				data = base64.StdEncoding.EncodeToString(fileData)
			}
			msg["data"] = data
			msg["mime"] = block.MimeType
		default:
			msg["text"] = block.Text
		}

		jsonData, err := json.Marshal(msg)
		if err != nil {
			slog.Error("Failed to marshal result block", "error", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, jsonData); err != nil {
			return err
		}
	}

	if len(res.Details) > 0 {
		jsonData, err := json.Marshal(map[string]any{
			"type":    "details",
			"details": res.Details,
		})
		if err == nil {
			conn.WriteMessage(websocket.TextMessage, jsonData)
		}
	}

	// Send finish flag
	return conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"done"}`))
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}

	// Wrap connection
	conn := &SafeConn{Conn: rawConn}

	// Simple UserID based on RemoteAddr
	userID := r.RemoteAddr

	// Register connection
	c.mu.Lock()
	c.connections[userID] = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.connections, userID)
		c.mu.Unlock()
		conn.Close()
	}()

	// Init Session Context. Each socket is its own conversation, so its
	// continue_edit state never collides with another browser tab.
	session := api.SessionContext{
		ChannelID: "web",
		UserID:    userID,
		ChatID:    userID,
		Username:  "WebUser",
	}

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var frame IncomingFrame
		if err := json.Unmarshal(msgBytes, &frame); err != nil || frame.Tool == "" {
			c.Send(session, "expected a JSON frame like {\"tool\":\"generate_image\",\"args\":{...}}")
			continue
		}

		files := c.saveImages(frame)

		inv := &api.Invocation{
			Session: session,
			Tool:    frame.Tool,
			Args:    frame.Args,
			Files:   files,
		}
		// Tool calls can take many seconds; keep the read loop responsive.
		go ctx.OnInvocation(c.ID(), inv)
	}
}

// saveImages persists uploaded images to disk so tools can address them by
// path. The content hash keeps repeated uploads from piling up.
func (c *WebChannel) saveImages(frame IncomingFrame) []api.FileAttachment {
	var files []api.FileAttachment
	for _, img := range frame.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			slog.Error("Failed to decode base64 image", "name", img.Name, "error", err)
			continue
		}

		attachmentsDir := c.config.AttachmentsDir
		if attachmentsDir == "" {
			attachmentsDir = "data/attachments"
		}
		if err := os.MkdirAll(attachmentsDir, 0755); err != nil {
			slog.Error("Failed to create attachments dir", "error", err)
			continue
		}

		hash := sha256.Sum256(data)
		ext := utils.ExtForFormat(utils.FormatForMime(utils.DetectMime(data)))
		// Name by content hash alone: re-uploading the same image maps to
		// the same file, so the existence check below can skip the write.
		localFileName := hex.EncodeToString(hash[:]) + ext
		localPath := filepath.Join(attachmentsDir, localFileName)

		if _, err := os.Stat(localPath); os.IsNotExist(err) {
			if err := os.WriteFile(localPath, data, 0644); err != nil {
				slog.Error("Failed to save image to disk", "path", localPath, "error", err)
				continue
			}
		}

		files = append(files, api.FileAttachment{
			Filename: img.Name,
			MimeType: img.Mime,
			Data:     nil, // Don't hold in memory
			Path:     localPath,
		})
		slog.Debug("Received and saved image directly to disk", "name", img.Name, "path", localPath)
	}
	return files
}
