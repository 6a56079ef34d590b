// Package prompt turns challenge prompts into category labels.
package prompt

import (
	"strings"

	"github.com/Brownie44l1/challenge-api/internal/challenge"
)

// homoglyphs folds look-alike characters observed in upstream prompts onto
// their canonical form. No replacement target appears as a source, so
// folding is idempotent.
var homoglyphs = strings.NewReplacer(
	// Cyrillic
	"а", "a",
	"е", "e",
	"і", "i",
	"о", "o",
	"с", "c",
	"ԁ", "d",
	"ѕ", "s",
	"һ", "h",
	"у", "y",
	"р", "p",
	"ј", "j",
	"х", "x",
	"ӏ", "l",
	// Greek
	"ο", "o",
	"ϳ", "j",
	"ν", "v",
	// CJK
	"ー", "一",
	"土", "士",
	// full-width punctuation and space
	"．", ".",
	"。", ".",
	"，", ",",
	"：", ":",
	"；", ";",
	"（", "(",
	"）", ")",
	"　", " ",
)

// Fold applies the homoglyph table to s.
func Fold(s string) string {
	return homoglyphs.Replace(s)
}

// Normalize extracts the category label from a prompt such as
// "Please click each image containing a dog." or
// "Select all dog images".
func Normalize(raw string) (challenge.Key, error) {
	p := Fold(strings.ToLower(raw))
	p = strings.ReplaceAll(p, ".", "")

	label, ok := afterContaining(p)
	if !ok {
		label, ok = betweenSelectAllAndImages(p)
	}
	if !ok {
		return "", challenge.MalformedPrompt(raw)
	}
	label = strings.Join(strings.Fields(label), " ")
	if label == "" {
		return "", challenge.MalformedPrompt(raw)
	}
	return challenge.Key(label), nil
}

func afterContaining(p string) (string, bool) {
	i := strings.LastIndex(p, "containing")
	if i < 0 {
		return "", false
	}
	words := strings.Fields(p[i+len("containing"):])
	if len(words) > 0 && (words[0] == "a" || words[0] == "an") {
		words = words[1:]
	}
	return strings.Join(words, " "), true
}

func betweenSelectAllAndImages(p string) (string, bool) {
	_, rest, found := strings.Cut(p, "select all")
	if !found {
		return "", false
	}
	label, _, found := strings.Cut(rest, "images")
	if !found {
		return "", false
	}
	return label, true
}
