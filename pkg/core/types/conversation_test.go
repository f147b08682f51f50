package types

import "testing"

func TestTitleFromText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "Qu'est-ce que l'endométriose ?", "Qu'est-ce que l'endométriose ?"},
		{"exactly five", "un deux trois quatre cinq", "un deux trois quatre cinq"},
		{"truncated", "Quels sont les traitements du kyste ovarien chez", "Quels sont les traitements du…"},
		{"whitespace collapsed", "  bonjour \n  docteur  ", "bonjour docteur"},
		{"empty", "   ", DefaultConversationTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TitleFromText(tt.in); got != tt.want {
				t.Fatalf("TitleFromText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestConversation_DefaultTitleAndUserMessages(t *testing.T) {
	c := Conversation{Title: DefaultConversationTitle}
	if !c.HasDefaultTitle() {
		t.Fatalf("HasDefaultTitle() = false for placeholder title")
	}
	if c.HasUserMessage() {
		t.Fatalf("HasUserMessage() = true for empty conversation")
	}
	c.Messages = []Message{{ID: "ai-1", Sender: SenderAI}, {ID: "user-2", Sender: SenderUser, Text: "bonjour"}}
	if !c.HasUserMessage() {
		t.Fatalf("HasUserMessage() = false")
	}
	c.Title = "Endométriose"
	if c.HasDefaultTitle() {
		t.Fatalf("HasDefaultTitle() = true for custom title")
	}
}

func TestCloneMessages_DeepCopiesSources(t *testing.T) {
	in := []Message{{ID: "ai-1", Sender: SenderAI, Sources: []Source{{URI: "https://a", Title: "A"}}}}
	out := CloneMessages(in)
	out[0].Sources[0].Title = "changed"
	if in[0].Sources[0].Title != "A" {
		t.Fatalf("clone shares sources backing array")
	}
	if CloneMessages(nil) != nil {
		t.Fatalf("CloneMessages(nil) != nil")
	}
}

func TestUser_IsApproved(t *testing.T) {
	var nilUser *User
	if nilUser.IsApproved() {
		t.Fatalf("nil user approved")
	}
	if (&User{Status: UserPending}).IsApproved() {
		t.Fatalf("pending user approved")
	}
	if !(&User{Status: UserApproved}).IsApproved() {
		t.Fatalf("approved user not approved")
	}
}
