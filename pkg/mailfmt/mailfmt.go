// Copyright 2024-2026 Aiku AI

// Package mailfmt composes the texts the modmail relay posts on either side
// of a correspondence.
package mailfmt

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// AttachmentsCaption accompanies correspondent files forwarded to staff.
	AttachmentsCaption = "**Attachments received:**"
	// TooLongWarning is posted into a session channel when a staff reply
	// exceeds the platform ceiling.
	TooLongWarning = "**Warning: your message was not sent as it was too long. Please make it shorter.**"

	attachmentsReceived = "**Attachments received**"
	unknownUser         = "Cannot retrieve user data"
)

var (
	codeRe      = regexp.MustCompile("`[^`\n]+`")
	codeBlockRe = regexp.MustCompile("(?s)```.*?```")
	mentionRe   = regexp.MustCompile(`(?i)(^|[^\w@])(@(?:channel|all|here))\b`)
)

// DefuseMentions wraps mass mentions (@channel, @all, @here) in inline code
// so they render literally and notify nobody. Mentions already inside code
// spans or blocks are left alone.
func DefuseMentions(text string) string {
	if !mentionRe.MatchString(text) {
		return text
	}

	// Step 1: Extract code into placeholders.
	var code []string
	extract := func(match string) string {
		idx := len(code)
		code = append(code, match)
		return "\x00CODE" + strconv.Itoa(idx) + "\x00"
	}
	processed := codeBlockRe.ReplaceAllStringFunc(text, extract)
	processed = codeRe.ReplaceAllStringFunc(processed, extract)

	// Step 2: Defuse what remains.
	processed = mentionRe.ReplaceAllString(processed, "$1`$2`")

	// Step 3: Restore code.
	for i, c := range code {
		processed = strings.Replace(processed, "\x00CODE"+strconv.Itoa(i)+"\x00", c, 1)
	}
	return processed
}

// StaffReply formats a staff message as delivered to a correspondent.
func StaffReply(name, text string) string {
	return name + ": " + text
}

// AttachmentCaption captions staff files sent to a correspondent. Empty text
// yields the short caption.
func AttachmentCaption(name, text string) string {
	if text == "" {
		return ShortAttachmentCaption(name)
	}
	return StaffReply(name, text)
}

// ShortAttachmentCaption is the caption used when the full one cannot be sent.
func ShortAttachmentCaption(name string) string {
	return StaffReply(name, attachmentsReceived)
}

// Length counts text the way the platform ceiling does, in code points.
func Length(text string) int {
	return utf8.RuneCountInString(text)
}

// Fits reports whether text is within limit code points. A non-positive limit
// disables the check.
func Fits(text string, limit int) bool {
	return limit <= 0 || Length(text) <= limit
}

// Topic is the header of a session channel for a known correspondent.
func Topic(username, id string) string {
	return username + " | " + id + " | @" + username
}

// UnknownTopic is the header used when the correspondent's profile could not
// be fetched.
func UnknownTopic(id string) string {
	return unknownUser + " | " + id
}

// Truncate cuts text to at most limit code points.
func Truncate(text string, limit int) string {
	if limit <= 0 || Length(text) <= limit {
		return text
	}
	var b strings.Builder
	n := 0
	for _, r := range text {
		if n == limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
