package llm

import "testing"

func TestParseReply(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		thought string
		reply   string
	}{
		{"structured", `{"thought":"checked sources","reply":"Company Overview"}`, "checked sources", "Company Overview"},
		{"fenced", "```json\n{\"thought\":\"t\",\"reply\":\"- point\"}\n```", "t", "- point"},
		{"plain text", "  Just the answer.\n", "", "Just the answer."},
		{"broken json", `{"reply": "unterminated`, "", `{"reply": "unterminated`},
		{"missing reply", `{"thought":"only"}`, "only", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseReply(tc.raw)
			if got.Thought != tc.thought || got.Reply != tc.reply {
				t.Fatalf("ParseReply(%q) = %+v", tc.raw, got)
			}
		})
	}
}
