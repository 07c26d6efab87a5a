package types

import "testing"

func TestMessage_LastText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "single text part",
			msg:  Message{Parts: []Part{{Kind: PartText, Text: "hello"}}},
			want: "hello",
		},
		{
			name: "text followed by tool call returns the text",
			msg: Message{Parts: []Part{
				{Kind: PartText, Text: "working on it"},
				{Kind: PartTool, ToolName: "edit"},
			}},
			want: "working on it",
		},
		{
			name: "tool call followed by empty text returns empty",
			msg: Message{Parts: []Part{
				{Kind: PartTool, ToolName: "edit"},
				{Kind: PartText, Text: "   "},
			}},
			want: "",
		},
		{
			name: "only tool parts returns empty",
			msg:  Message{Parts: []Part{{Kind: PartTool, ToolName: "read"}}},
			want: "",
		},
		{
			name: "multiple text parts returns the last non-empty one",
			msg: Message{Parts: []Part{
				{Kind: PartText, Text: "first"},
				{Kind: PartText, Text: "second"},
			}},
			want: "second",
		},
		{
			name: "no parts returns empty",
			msg:  Message{},
			want: "",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.msg.LastText(); got != tc.want {
				t.Errorf("LastText() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSession_LastAssistantMessage(t *testing.T) {
	t.Parallel()

	t.Run("returns the last assistant message", func(t *testing.T) {
		t.Parallel()
		s := Session{Messages: []Message{
			{ID: "1", Role: RoleUser},
			{ID: "2", Role: RoleAssistant},
			{ID: "3", Role: RoleUser},
			{ID: "4", Role: RoleAssistant},
		}}
		got, ok := s.LastAssistantMessage()
		if !ok {
			t.Fatal("ok = false, want true")
		}
		if got.ID != "4" {
			t.Errorf("ID = %q, want %q", got.ID, "4")
		}
	})

	t.Run("no assistant messages returns false", func(t *testing.T) {
		t.Parallel()
		s := Session{Messages: []Message{{ID: "1", Role: RoleUser}}}
		_, ok := s.LastAssistantMessage()
		if ok {
			t.Error("ok = true, want false")
		}
	})
}

func TestSession_HumanMessages(t *testing.T) {
	t.Parallel()

	s := Session{Messages: []Message{
		{ID: "u1", Role: RoleUser},
		{ID: "injected", Role: RoleUser},
		{ID: "a1", Role: RoleAssistant},
		{ID: "u2", Role: RoleUser},
	}}

	got := s.HumanMessages(map[string]bool{"injected": true})
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "u1" || got[1].ID != "u2" {
		t.Errorf("got IDs %q, %q; want u1, u2", got[0].ID, got[1].ID)
	}
}

func TestIsWriteLikeTool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"edit", true},
		{"write", true},
		{"apply_patch", true},
		{"pr_create", true},
		{"read", false},
		{"grep", false},
		{"glob", false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsWriteLikeTool(tc.name); got != tc.want {
				t.Errorf("IsWriteLikeTool(%q) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestIsReadLikeTool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"read", true},
		{"grep", true},
		{"glob", true},
		{"todowrite", true},
		{"context7_resolve", true},
		{"edit", false},
		{"write", false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsReadLikeTool(tc.name); got != tc.want {
				t.Errorf("IsReadLikeTool(%q) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestParseSelfAssessment(t *testing.T) {
	t.Parallel()

	t.Run("plain JSON parses", func(t *testing.T) {
		t.Parallel()
		raw := `{"status": "complete", "confidence": 0.9}`
		sa, err := ParseSelfAssessment(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sa.Status != StatusComplete {
			t.Errorf("Status = %q, want %q", sa.Status, StatusComplete)
		}
		if sa.Confidence == nil || *sa.Confidence != 0.9 {
			t.Errorf("Confidence = %v, want 0.9", sa.Confidence)
		}
	})

	t.Run("JSON wrapped in a markdown code fence parses", func(t *testing.T) {
		t.Parallel()
		raw := "```json\n{\"status\": \"in_progress\"}\n```"
		sa, err := ParseSelfAssessment(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sa.Status != StatusInProgress {
			t.Errorf("Status = %q, want %q", sa.Status, StatusInProgress)
		}
	})

	t.Run("malformed JSON returns an error", func(t *testing.T) {
		t.Parallel()
		_, err := ParseSelfAssessment("not json at all")
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("every field omitted is a valid, empty assessment", func(t *testing.T) {
		t.Parallel()
		sa, err := ParseSelfAssessment("{}")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sa.Status != "" || sa.Confidence != nil || sa.Stuck {
			t.Errorf("expected zero-value assessment, got %+v", sa)
		}
	})
}

func TestShortSessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want string
	}{
		{"abcdefgh", "abcdefgh"},
		{"abc", "abc"},
		{"abcdefghijklmnop", "abcdefgh"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.id, func(t *testing.T) {
			t.Parallel()
			if got := ShortSessionID(tc.id); got != tc.want {
				t.Errorf("ShortSessionID(%q) = %q, want %q", tc.id, got, tc.want)
			}
		})
	}
}

func TestTaskContext_HasSignal(t *testing.T) {
	t.Parallel()

	tc := TaskContext{DetectedSignals: []DetectedSignal{SignalTestMention, SignalGitPush}}
	if !tc.HasSignal(SignalTestMention) {
		t.Error("HasSignal(SignalTestMention) = false, want true")
	}
	if tc.HasSignal(SignalBuildMention) {
		t.Error("HasSignal(SignalBuildMention) = true, want false")
	}
}
