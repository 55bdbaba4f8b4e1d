package telegram

import (
	"testing"

	"atelier/pkg/api"
)

func testSession() api.SessionContext {
	return api.SessionContext{ChannelID: "telegram", UserID: "7", ChatID: "7", Username: "tester"}
}

func TestParseInvocationCommands(t *testing.T) {
	cases := []struct {
		name    string
		content string
		files   []api.FileAttachment
		tool    string // "" means the message must be rejected
		check   func(t *testing.T, inv *api.Invocation)
	}{
		{
			name:    "generate command",
			content: "/generate a red circle",
			tool:    "generate_image",
			check: func(t *testing.T, inv *api.Invocation) {
				if inv.Args["prompt"] != "a red circle" {
					t.Fatalf("prompt = %v", inv.Args["prompt"])
				}
			},
		},
		{
			name:    "generate without prompt",
			content: "/generate",
			tool:    "",
		},
		{
			name:    "bare text generates",
			content: "a blue square",
			tool:    "generate_image",
		},
		{
			name:    "command with bot suffix",
			content: "/generate@atelier_bot sunset",
			tool:    "generate_image",
		},
		{
			name:    "photo with caption edits",
			content: "make it darker",
			files:   []api.FileAttachment{{Path: "/tmp/a.png"}},
			tool:    "edit_image",
			check: func(t *testing.T, inv *api.Invocation) {
				if len(inv.Files) != 1 {
					t.Fatalf("files = %v", inv.Files)
				}
			},
		},
		{
			name:    "photo without caption rejected",
			content: "",
			files:   []api.FileAttachment{{Path: "/tmp/a.png"}},
			tool:    "",
		},
		{
			name:    "album keeps first photo as source",
			content: "/edit blend these",
			files: []api.FileAttachment{
				{Path: "/tmp/a.png"},
				{Path: "/tmp/b.png"},
				{Path: "/tmp/c.png"},
			},
			tool: "edit_image",
			check: func(t *testing.T, inv *api.Invocation) {
				if len(inv.Files) != 1 || inv.Files[0].Path != "/tmp/a.png" {
					t.Fatalf("files = %v", inv.Files)
				}
				refs, _ := inv.Args["reference_paths"].([]string)
				if len(refs) != 2 || refs[0] != "/tmp/b.png" {
					t.Fatalf("reference_paths = %v", inv.Args["reference_paths"])
				}
			},
		},
		{
			name:    "continue command",
			content: "/continue add a moon",
			tool:    "continue_edit",
		},
		{
			name:    "list with kind",
			content: "/list edited",
			tool:    "list_images",
			check: func(t *testing.T, inv *api.Invocation) {
				if inv.Args["kind"] != "edited" {
					t.Fatalf("kind = %v", inv.Args["kind"])
				}
			},
		},
		{
			name:    "list bare",
			content: "/list",
			tool:    "list_images",
		},
		{
			name:    "get includes data",
			content: "/get 0123abc",
			tool:    "get_image",
			check: func(t *testing.T, inv *api.Invocation) {
				if inv.Args["id"] != "0123abc" || inv.Args["include_data"] != true {
					t.Fatalf("args = %v", inv.Args)
				}
			},
		},
		{
			name:    "delete",
			content: "/delete 0123abc",
			tool:    "delete_image",
		},
		{
			name:    "search",
			content: "/search sunset",
			tool:    "search_images",
		},
		{
			name:    "unknown command rejected",
			content: "/frobnicate now",
			tool:    "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := parseInvocation(testSession(), tc.content, tc.files)
			if tc.tool == "" {
				if inv != nil {
					t.Fatalf("expected rejection, got %+v", inv)
				}
				return
			}
			if inv == nil {
				t.Fatal("message rejected")
			}
			if inv.Tool != tc.tool {
				t.Fatalf("tool = %s, want %s", inv.Tool, tc.tool)
			}
			if inv.Session.Key() != "telegram_7" {
				t.Fatalf("session key = %s", inv.Session.Key())
			}
			if tc.check != nil {
				tc.check(t, inv)
			}
		})
	}
}
