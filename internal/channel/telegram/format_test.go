package telegram

import (
	"strings"
	"testing"
)

func TestFormatMessage(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"**bold** and *italic*", []string{"<b>bold</b>", "<i>italic</i>"}},
		{"`inline code`", []string{"<code>inline code</code>"}},
		{"# Heading", []string{"<b>Heading</b>"}},
		{"[link](https://example.com)", []string{`<a href="https://example.com">link</a>`}},
		{"a < b && c > d", []string{"a &lt; b &amp;&amp; c &gt; d"}},
		{"```\nx := 1\n```", []string{"<pre>x := 1\n</pre>"}},
		{"~~gone~~", []string{"<s>gone</s>"}},
		{"- one\n- two", []string{"• one", "• two"}},
	}
	for _, tc := range cases {
		got := FormatMessage(tc.in)
		for _, want := range tc.want {
			if !strings.Contains(got, want) {
				t.Errorf("FormatMessage(%q) = %q, missing %q", tc.in, got, want)
			}
		}
	}

	if FormatMessage("") != "" {
		t.Error("empty input should stay empty")
	}
}

func TestMessageIDRoundTrip(t *testing.T) {
	for _, id := range []int{1, 42, 987654321} {
		if got := DecodeMessageID(EncodeMessageID(id)); got != id {
			t.Errorf("round trip %d -> %d", id, got)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	short := "hello"
	if got := splitMessage(short, 4096); len(got) != 1 || got[0] != short {
		t.Errorf("short = %v", got)
	}

	long := strings.Repeat("line of text\n", 600) // ~7800 chars
	chunks := splitMessage(long, 4096)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want >= 2", len(chunks))
	}
	var rejoined strings.Builder
	for _, c := range chunks {
		if len(c) > 4096 {
			t.Errorf("chunk over limit: %d", len(c))
		}
		rejoined.WriteString(c)
	}
	if rejoined.String() != long {
		t.Error("chunks do not reassemble the original")
	}
}
