package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForSpeech(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"prefix", "NARRATION: Plants make sugar.", "Plants make sugar."},
		{"step prefix", "Step 2: Mix the water.", "Mix the water."},
		{"bold and italic", "This is **very** *important*.", "This is very important."},
		{"underscores", "A __bold__ and _soft_ word", "A bold and soft word"},
		{"header", "## Overview\nLight is energy", "Overview Light is energy"},
		{"link", "See [the docs](https://example.com) now", "See the docs now"},
		{"code", "Run `go test` then ```\nrm -rf /\n``` done", "Run go test then done"},
		{"bullets", "- first\n* second\n+ third", "first second third"},
		{"colon at line end", "Key facts:\nwater", "Key facts. water"},
		{"periods", "Wait... what. . ok", "Wait. what. ok"},
		{"abbreviations", "Fruit, e.g. apples, i.e. food, etc.", "Fruit, for example apples, that is food, and so on"},
		{"emoji", "Great job 🚀 team 😀", "Great job team"},
		{"enclosed letters", "Ⓜ metro 🅰 grade", "metro grade"},
		{"other scripts", "光合作用 means photosynthesis, café ✂ cut", "光合作用 means photosynthesis, café cut"},
		{"stacked prefixes", strings.Repeat("NARRATION: ", 12) + "Plants make sugar.", "Plants make sugar."},
		{"mixed stacked prefixes", "Explanation: Step 3: narration: Step 10: Roots drink water.", "Roots drink water."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ForSpeech(tc.in))
		})
	}
}

func TestForSpeechIdempotent(t *testing.T) {
	inputs := []string{
		"**Bold**: then *italic*:\n## Header\n- bullet e.g. this",
		"NARRATION: Step 1: ***nested*** markup",
		"___x___ and __*y*__",
		"Narration: narration: twice",
		"Dots.... and . . . spaced",
		"[link](url) `code` ```fence```",
		"plain text",
		strings.Repeat("Narration: ", 20) + "deep stack",
		strings.Repeat("Step 1: Explanation: ", 10) + "alternating",
	}
	for _, in := range inputs {
		once := ForSpeech(in)
		assert.Equal(t, once, ForSpeech(once), "input %q", in)
	}
}

func TestLLMOutput(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"count annotation", "Photosynthesis turns light into sugar (42 characters)", "Photosynthesis turns light into sugar"},
		{"markdown", "**Photosynthesis** is *how* plants eat", "Photosynthesis is how plants eat"},
		{"option prefix", "Option 1 (Concise): Plants convert light", "Plants convert light"},
		{"stacked option prefixes", strings.Repeat("Option 2: ", 10) + "Leaves catch light", "Leaves catch light"},
		{"artifacts", "# Title ~~with~~ [brackets]", "Title with brackets"},
		{"trailing junk", ":: Sunlight powers growth --", "Sunlight powers growth"},
		{"whitespace", "line one\n\nline   two", "line one line two"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LLMOutput(tc.in))
		})
	}
}

func TestLLMOutputIdempotent(t *testing.T) {
	inputs := []string{
		"Option 2: Option 3: nested options",
		"**a** *b* _c_ `d` #e",
		"- - - dashes - - -",
		strings.Repeat("Option 1: ", 12) + "many options",
	}
	for _, in := range inputs {
		once := LLMOutput(in)
		assert.Equal(t, once, LLMOutput(once), "input %q", in)
	}
}
