// Package sanitize cleans generated text before it is displayed or spoken.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	// Enclosed characters are matched as \x{24C2} and \x{1F170}-\x{1F251}
	// only, leaving CJK and other scripts between them intact.
	emojiRanges = regexp.MustCompile(`[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F680}-\x{1F6FF}\x{1F1E0}-\x{1F1FF}\x{2702}-\x{27B0}\x{24C2}\x{1F170}-\x{1F251}]`)

	// Stacked prefixes ("Narration: Step 1: ...") go in a single match.
	speakerPrefix = regexp.MustCompile(`(?im)^(?:(?:narration|explanation):\s*|step\s+\d+:\s*)+`)

	bold          = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italic        = regexp.MustCompile(`\*(.*?)\*`)
	doubleUnder   = regexp.MustCompile(`__(.*?)__`)
	singleUnder   = regexp.MustCompile(`_(.*?)_`)
	colonBold     = regexp.MustCompile(`:\s*\*\*`)
	colonItalic   = regexp.MustCompile(`:\s*\*`)
	colonHeader   = regexp.MustCompile(`:\s*#+`)
	colonLineEnd  = regexp.MustCompile(`(?m):[ \t]*$`)
	header        = regexp.MustCompile(`(?m)^#+\s*`)
	codeFence     = regexp.MustCompile("(?s)```[^`]*```")
	inlineCode    = regexp.MustCompile("`([^`]*)`")
	link          = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	bullet        = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	whitespace    = regexp.MustCompile(`\s+`)
	periodRun     = regexp.MustCompile(`\.{2,}`)
	spacedPeriods = regexp.MustCompile(`\s*\.\s*\.`)

	countAnnotation = regexp.MustCompile(`(?i)\(\d+\s*(characters?|words?|chars?)\)`)
	asteriskRun     = regexp.MustCompile(`\*+`)
	artifacts       = regexp.MustCompile("[*_#`~\\[\\]]+")
	colonRun        = regexp.MustCompile(`:{2,}`)
	optionPrefix    = regexp.MustCompile(`(?i)^(?:Option\s+\d+\s*[:\-(]*\s*(?:Concise|Brief|Short|Long|Detailed)?\s*[:\-)]*\s*)+`)
	leadingJunk     = regexp.MustCompile(`^[:\-*\s]+`)
	trailingJunk    = regexp.MustCompile(`[:\-*\s]+$`)
)

var spokenAbbreviations = strings.NewReplacer(
	"e.g.", "for example",
	"i.e.", "that is",
	"etc.", "and so on",
)

// ForSpeech prepares text for narration: emoji, speaker prefixes and
// markdown are removed, whitespace collapses to single spaces and common
// abbreviations are spelled out. ForSpeech(ForSpeech(s)) == ForSpeech(s).
func ForSpeech(text string) string {
	return fixpoint(text, speechPass)
}

// LLMOutput strips formatting artifacts from a raw completion so it can be
// placed on a slide.
func LLMOutput(text string) string {
	return fixpoint(text, llmPass)
}

// fixpoint reapplies pass until the text stops changing. A changing pass
// consumes at least one markup or prefix character, so len(text)+1 passes
// is an upper bound that real input never approaches.
func fixpoint(text string, pass func(string) string) string {
	if text == "" {
		return text
	}
	out := text
	for i := 0; i <= len(text); i++ {
		next := pass(out)
		if next == out {
			return out
		}
		out = next
	}
	return out
}

func speechPass(text string) string {
	text = emojiRanges.ReplaceAllString(text, "")

	text = speakerPrefix.ReplaceAllString(text, "")

	text = bold.ReplaceAllString(text, "$1")
	text = italic.ReplaceAllString(text, "$1")
	text = doubleUnder.ReplaceAllString(text, "$1")
	text = singleUnder.ReplaceAllString(text, "$1")

	text = colonBold.ReplaceAllString(text, ": ")
	text = colonItalic.ReplaceAllString(text, ": ")
	text = colonLineEnd.ReplaceAllString(text, ".")

	text = header.ReplaceAllString(text, "")
	text = codeFence.ReplaceAllString(text, "")
	text = inlineCode.ReplaceAllString(text, "$1")
	text = link.ReplaceAllString(text, "$1")
	text = bullet.ReplaceAllString(text, "")

	text = whitespace.ReplaceAllString(text, " ")
	text = periodRun.ReplaceAllString(text, ".")
	text = spacedPeriods.ReplaceAllString(text, ".")

	text = spokenAbbreviations.Replace(text)
	return strings.TrimSpace(text)
}

func llmPass(text string) string {
	text = countAnnotation.ReplaceAllString(text, "")

	text = bold.ReplaceAllString(text, "$1")
	text = italic.ReplaceAllString(text, "$1")
	text = asteriskRun.ReplaceAllString(text, "")
	text = doubleUnder.ReplaceAllString(text, "$1")
	text = singleUnder.ReplaceAllString(text, "$1")

	text = header.ReplaceAllString(text, "")
	text = codeFence.ReplaceAllString(text, "")
	text = inlineCode.ReplaceAllString(text, "$1")
	text = link.ReplaceAllString(text, "$1")

	text = colonBold.ReplaceAllString(text, ": ")
	text = colonItalic.ReplaceAllString(text, ": ")
	text = colonHeader.ReplaceAllString(text, ": ")

	text = artifacts.ReplaceAllString(text, "")
	text = colonRun.ReplaceAllString(text, ":")
	text = optionPrefix.ReplaceAllString(text, "")

	text = whitespace.ReplaceAllString(text, " ")
	text = leadingJunk.ReplaceAllString(text, "")
	text = trailingJunk.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
