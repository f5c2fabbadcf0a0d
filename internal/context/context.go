// Package context turns a stored conversation into the ordered message
// list sent to the completion service.
package context

// Compressor reduces a conversation to fit within a context window.
type Compressor interface {
	Compress(turns []Turn) []Turn
}

// Assembler combines a conversation record and a new user input into the
// final message list.
type Assembler interface {
	Assemble(record []Turn, content string, attachments []Attachment, maxTurns int) []Message
}
