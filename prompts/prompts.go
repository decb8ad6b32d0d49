package prompts

import (
	_ "embed"
	"strings"

	"chatdesk/web/types"
)

// Embedded prompt files

//go:embed chat.txt
var chatSystem string

//go:embed coding.txt
var codingSystem string

// ImageDirective is the exact reply the chat model gives when the user asks
// for an image; the reducer intercepts it and switches to image generation.
const ImageDirective = "[GENERATE_IMAGE]"

// ImagePromptPrefix is prepended to every image generation prompt.
const ImagePromptPrefix = "Generate a high-quality, professional image of: "

func ChatSystem() string   { return strings.TrimSpace(chatSystem) }
func CodingSystem() string { return strings.TrimSpace(codingSystem) }

// SystemInstruction returns the system instruction sent with a streamed
// request in the given mode. Image mode never streams and has none.
func SystemInstruction(mode types.SubmissionMode) string {
	switch mode {
	case types.ModeCoding:
		return CodingSystem()
	case types.ModeImage:
		return ""
	default:
		return ChatSystem()
	}
}
