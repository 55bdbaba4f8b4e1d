package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"atelier/pkg/api"
	"atelier/pkg/utils"
)

// TelegramConfig encapsulates the credentials required to authenticate with
// the Telegram Bot API.
type TelegramConfig struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
}

// TelegramChannel is the production implementation of gateway.Channel for
// the Telegram platform. It maps bot commands onto tool invocations,
// buffers media groups (albums) and splits long replies into chunks.
type TelegramChannel struct {
	config       TelegramConfig               // Auth credentials
	bot          *tgbotapi.BotAPI             // Underlying Telegram SDK client
	messageLimit int                          // Maximum character count per single message bubble
	mediaGroups  map[string]*mediaGroupBuffer // Buffer for grouping multiple images sent together
	httpClient   *http.Client                 // Client for downloading remote media from Telegram
	mu           sync.Mutex                   // Protects concurrent access to internal buffers
	stopCtx      context.Context              // Context used to forcibly abort the long-polling HTTP request
	stopCancel   context.CancelFunc           // Function to trigger the abort
}

// mediaGroupBuffer aggregates multiple incoming messages marked with the
// same MediaGroupID into a single invocation. A multi-image album becomes
// one edit call: first photo as source, the rest as references.
type mediaGroupBuffer struct {
	session  api.SessionContext // Target session metadata
	content  string             // Aggregated caption text
	photoIDs []string           // Collection of file identifiers
	timer    *time.Timer        // Debounce timer for finishing the group
}

func NewTelegramChannel(cfg TelegramConfig, msgLimit int, timeoutMs int) (api.Channel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// Create a dedicated HTTP client for the bot so we can forcefully close it on reload
	// By tying the DialContext to our stopCtx, active long-polling requests will be
	// instantly aborted when Stop() is called, preventing the 409 Conflict.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	botHttpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				// We wrap the context with our stopCtx so we can arbitrarily kill the connection
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHttpClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	return &TelegramChannel{
		config:       cfg,
		bot:          bot,
		messageLimit: msgLimit,
		mediaGroups:  make(map[string]*mediaGroupBuffer),
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
		stopCtx:    ctx,
		stopCancel: cancel,
	}, nil
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start initiates the long-polling update loop in a background goroutine.
// It maps platform-specific update types (commands, photos, albums) into
// internal Invocations.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	offset := 0

	// Process updates in background with manual loop to allow Context cancellation
	go func() {
		for {
			select {
			case <-t.stopCtx.Done():
				return // Gracefully exit on shutdown
			default:
			}

			reqConfig := tgbotapi.NewUpdate(offset)
			reqConfig.Timeout = 60

			// Use the native GetUpdates instead of GetUpdatesChan so we control
			// the offset and the loop exits on stopCtx without a 409 Conflict.
			updates, err := t.bot.GetUpdates(reqConfig)
			if err != nil {
				select {
				case <-t.stopCtx.Done():
					return // Ignore error if we are shutting down
				default:
					slog.Debug("Failed to get telegram updates", "error", err)
					time.Sleep(3 * time.Second)
					continue
				}
			}

			for _, update := range updates {
				if update.UpdateID >= offset {
					offset = update.UpdateID + 1

					if update.Message == nil {
						continue
					}

					// Init Session Context
					session := api.SessionContext{
						ChannelID: "telegram",
						UserID:    strconv.FormatInt(update.Message.From.ID, 10),
						ChatID:    strconv.FormatInt(update.Message.Chat.ID, 10),
						Username:  update.Message.From.UserName,
					}

					// Identify photos but don't download yet to avoid blocking group logic
					var photoID string
					if len(update.Message.Photo) > 0 {
						photoID = update.Message.Photo[len(update.Message.Photo)-1].FileID
					}

					// Get content
					content := update.Message.Text
					if content == "" {
						content = update.Message.Caption
					}

					// Handle MediaGroup (album/collection)
					if update.Message.MediaGroupID != "" {
						t.handleMediaGroup(ctx, update.Message.MediaGroupID, session, content, photoID)
						continue
					}

					// Regular message (single image or plain text)
					if photoID != "" {
						// Process image asynchronously to avoid blocking the update loop
						go func(s api.SessionContext, text string, pID string) {
							var files []api.FileAttachment
							if file, err := t.downloadPhoto(pID); err == nil {
								files = append(files, *file)
							} else {
								slog.Error("Photo download failed", "error", err)
							}
							t.emitInvocation(ctx, s, text, files)
						}(session, content, photoID)
					} else {
						go t.emitInvocation(ctx, session, content, nil)
					}
				}
			}
		}
	}()

	return nil
}

// emitInvocation parses one chat message into an invocation and forwards it.
func (t *TelegramChannel) emitInvocation(ctx api.ChannelContext, session api.SessionContext, content string, files []api.FileAttachment) {
	inv := parseInvocation(session, content, files)
	if inv == nil {
		t.Send(session, helpText)
		return
	}
	ctx.OnInvocation(t.ID(), inv)
}

const helpText = `Commands:
/generate <prompt> - create an image from text
/edit <prompt> - edit an attached photo (send with a photo)
/continue <prompt> - keep editing the last image
/list [generated|edited] - list recent images
/get <id> - show one image
/delete <id> - delete an image
/search <text> - search images by prompt

Plain text generates an image; a photo with a caption edits it.`

// parseInvocation maps commands and bare messages onto tool calls. Returns
// nil when the message cannot be interpreted.
func parseInvocation(session api.SessionContext, content string, files []api.FileAttachment) *api.Invocation {
	inv := &api.Invocation{
		Session: session,
		Args:    make(map[string]any),
		Files:   files,
	}

	command, rest := splitCommand(content)
	switch command {
	case "/generate":
		if rest == "" {
			return nil
		}
		inv.Tool = "generate_image"
		inv.Args["prompt"] = rest
	case "/edit":
		if rest == "" {
			return nil
		}
		inv.Tool = "edit_image"
		inv.Args["prompt"] = rest
		attachReferences(inv, files)
	case "/continue":
		if rest == "" {
			return nil
		}
		inv.Tool = "continue_edit"
		inv.Args["prompt"] = rest
	case "/list":
		inv.Tool = "list_images"
		if rest != "" {
			inv.Args["kind"] = rest
		}
	case "/get":
		if rest == "" {
			return nil
		}
		inv.Tool = "get_image"
		inv.Args["id"] = rest
		inv.Args["include_data"] = true
	case "/delete":
		if rest == "" {
			return nil
		}
		inv.Tool = "delete_image"
		inv.Args["id"] = rest
	case "/search":
		if rest == "" {
			return nil
		}
		inv.Tool = "search_images"
		inv.Args["query"] = rest
	case "":
		// No command: a photo with a caption is an edit, bare text generates.
		if len(files) > 0 {
			if content == "" {
				return nil
			}
			inv.Tool = "edit_image"
			inv.Args["prompt"] = content
			attachReferences(inv, files)
		} else {
			if content == "" {
				return nil
			}
			inv.Tool = "generate_image"
			inv.Args["prompt"] = content
		}
	default:
		return nil
	}

	return inv
}

// splitCommand separates a leading /command from the remaining text.
func splitCommand(content string) (string, string) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "/") {
		return "", content
	}
	parts := strings.SplitN(content, " ", 2)
	command := strings.ToLower(parts[0])
	// Strip the @botname suffix used in group chats
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	rest := ""
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return command, rest
}

// attachReferences marks every photo after the first as a reference image.
// The first photo stays in Files so the dispatcher can bind it as the source.
func attachReferences(inv *api.Invocation, files []api.FileAttachment) {
	if len(files) < 2 {
		return
	}
	refs := make([]string, 0, len(files)-1)
	for _, f := range files[1:] {
		if f.Path != "" {
			refs = append(refs, f.Path)
		}
	}
	if len(refs) > 0 {
		inv.Args["reference_paths"] = refs
	}
	inv.Files = files[:1]
}

// downloadPhoto encapsulates the download logic, streaming directly to disk
func (t *TelegramChannel) downloadPhoto(fileID string) (*api.FileAttachment, error) {
	// Use Telegram API to get file info (contains Path)
	fileInfo, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get photo file info: %w", err)
	}

	// Combine download URL directly from Token to reduce API round trips
	fileURL := fileInfo.Link(t.config.Token)

	// Download content
	resp, err := t.httpClient.Get(fileURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download photo: status code %d", resp.StatusCode)
	}

	// Ensure attachments directory exists
	attachmentsDir := "data/attachments"
	if err := os.MkdirAll(attachmentsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attachments directory: %w", err)
	}

	// Telegram FileIDs are unique to the file content.
	// We use a glob-based check to skip downloading if any extension of this file exists.
	basePattern := fmt.Sprintf("%s/tg_%s", attachmentsDir, fileID)
	if matches, _ := filepath.Glob(basePattern + "*"); len(matches) > 0 {
		localPath := matches[0]

		// File already exists, return it directly
		return &api.FileAttachment{
			Filename: fileInfo.FilePath,
			MimeType: utils.DetectFileMime(localPath),
			Data:     nil, // We don't keep it in memory
			Path:     localPath,
		}, nil
	}

	// Create local file with extension from Telegram's path
	ext := filepath.Ext(fileInfo.FilePath)
	localPath := basePattern + ext

	outFile, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create local file: %w", err)
	}
	defer outFile.Close()

	// Stream directly to disk
	if _, err := io.Copy(outFile, resp.Body); err != nil {
		return nil, fmt.Errorf("failed to save photo data to disk: %w", err)
	}

	// Final verification: if extension was missing, detect it now and rename
	mimeType := utils.DetectFileMime(localPath)
	if ext == "" {
		newPath := basePattern + utils.ExtForFormat(utils.FormatForMime(mimeType))
		if err := os.Rename(localPath, newPath); err == nil {
			localPath = newPath
		}
	}

	return &api.FileAttachment{
		Filename: fileInfo.FilePath,
		MimeType: mimeType,
		Data:     nil, // We don't keep it in memory
		Path:     localPath,
	}, nil
}

func (t *TelegramChannel) handleMediaGroup(ctx api.ChannelContext, groupID string, session api.SessionContext, text string, photoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.mediaGroups[groupID]
	if !ok {
		// Create new buffer
		buf = &mediaGroupBuffer{
			session:  session,
			content:  text,
			photoIDs: []string{},
		}
		if photoID != "" {
			buf.photoIDs = append(buf.photoIDs, photoID)
		}
		t.mediaGroups[groupID] = buf

		// Set timer (send after 1s to allow more incoming media)
		buf.timer = time.AfterFunc(time.Second, func() {
			t.mu.Lock()
			if finalBuf, exists := t.mediaGroups[groupID]; exists {
				delete(t.mediaGroups, groupID)
				t.mu.Unlock()

				// Download all photos in parallel
				var wg sync.WaitGroup
				files := make([]api.FileAttachment, len(finalBuf.photoIDs))

				for i, pid := range finalBuf.photoIDs {
					wg.Add(1)
					go func(index int, id string) {
						defer wg.Done()
						if file, err := t.downloadPhoto(id); err == nil {
							files[index] = *file
						} else {
							slog.Error("MediaGroup download failed", "file_id", id, "error", err)
						}
					}(i, pid)
				}
				wg.Wait()

				// Clean up empty items (failed downloads)
				var successfulFiles []api.FileAttachment
				for _, f := range files {
					if f.Path != "" {
						successfulFiles = append(successfulFiles, f)
					}
				}

				slog.Info("MediaGroup collected", "group", groupID, "images", fmt.Sprintf("%d/%d", len(successfulFiles), len(finalBuf.photoIDs)), "content_len", len(finalBuf.content))
				t.emitInvocation(ctx, finalBuf.session, finalBuf.content, successfulFiles)
			} else {
				t.mu.Unlock()
			}
		})
	} else {
		// Accumulate content and photos
		if text != "" {
			if buf.content != "" {
				buf.content += "\n" + text
			} else {
				buf.content = text
			}
		}
		if photoID != "" {
			buf.photoIDs = append(buf.photoIDs, photoID)
		}

		// Reset timer
		buf.timer.Reset(time.Second)
	}
}

func (t *TelegramChannel) Stop() error {
	t.stopCancel() // Cancel our custom long-polling loop immediately

	// Forcefully close lingering HTTP connections
	// Note: HTTP/1.1 connections stuck in Read won't abort via CloseIdleConnections().
	// But it will clear the pool.
	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}

	return nil
}

func (t *TelegramChannel) Send(session api.SessionContext, message string) error {
	// Telegram Chat ID must be int64
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}

	msgRunes := []rune(message)
	totalLen := len(msgRunes)

	if totalLen <= t.messageLimit {
		// Send short message directly
		msg := tgbotapi.NewMessage(chatID, message)
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
		return nil
	}

	// Send long message in chunks
	for i := 0; i < totalLen; i += t.messageLimit {
		end := i + t.messageLimit
		if end > totalLen {
			end = totalLen
		}
		chunk := string(msgRunes[i:end])
		msg := tgbotapi.NewMessage(chatID, chunk)
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send chunk failed at index %d: %w", i, err)
		}
	}

	return nil
}

func (t *TelegramChannel) sendPhoto(session api.SessionContext, block api.ContentBlock) error {
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return err
	}

	var photo tgbotapi.Chattable
	if block.Path != "" {
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(block.Path))
	} else if block.Data != "" {
		data, derr := base64.StdEncoding.DecodeString(block.Data)
		if derr != nil {
			return fmt.Errorf("invalid image data: %w", derr)
		}
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
			Name:  "image" + utils.ExtForFormat(utils.FormatForMime(block.MimeType)),
			Bytes: data,
		})
	} else {
		return fmt.Errorf("image block carries neither path nor data")
	}

	_, err = t.bot.Send(photo)
	return err
}

// SendResult renders a tool result back into the chat. Text blocks are
// aggregated into one bubble (respecting the message limit); images are sent
// as photos in order.
func (t *TelegramChannel) SendResult(session api.SessionContext, res *api.ToolResult) error {
	var textBuf strings.Builder

	for _, block := range res.Content {
		switch block.Type {
		case "image":
			// Send current text buffer first to maintain order
			if textBuf.Len() > 0 {
				if err := t.Send(session, textBuf.String()); err != nil {
					slog.Error("Failed to send text before image", "error", err)
				}
				textBuf.Reset()
			}
			if err := t.sendPhoto(session, block); err != nil {
				slog.Error("Failed to send photo", "error", err)
				t.Send(session, "⚠️ Could not deliver the image.")
			}
		default:
			if textBuf.Len() > 0 {
				textBuf.WriteString("\n")
			}
			textBuf.WriteString(block.Text)
		}
	}

	if textBuf.Len() > 0 {
		return t.Send(session, textBuf.String())
	}
	return nil
}
