package context

// StandardAssembler places the system turn first, then the trimmed history,
// then the new user turn.
type StandardAssembler struct {
	// Compressor trims the record. Nil means a HeadKeepingCompressor sized
	// by the maxTurns argument of Assemble; a non-nil Compressor owns the
	// window itself and maxTurns is ignored.
	Compressor Compressor
}

// Assemble builds the final message list: system + trimmed history + user.
// record must start with the system turn. Historical attachments are not
// replayed; only the new turn carries image parts.
func (a *StandardAssembler) Assemble(record []Turn, content string, attachments []Attachment, maxTurns int) []Message {
	compressor := a.Compressor
	if compressor == nil {
		compressor = &HeadKeepingCompressor{MaxTurns: maxTurns}
	}
	trimmed := compressor.Compress(record)

	messages := make([]Message, 0, len(trimmed)+1)
	for _, t := range trimmed {
		messages = append(messages, Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, userMessage(content, attachments))
	return messages
}

func userMessage(content string, attachments []Attachment) Message {
	var parts []Part
	for _, att := range attachments {
		if att.Kind != AttachmentImage || att.Locator == "" {
			continue
		}
		if parts == nil {
			parts = append(parts, Part{Type: "text", Text: content})
		}
		parts = append(parts, Part{Type: "image_url", ImageURL: att.Locator})
	}
	if len(parts) == 0 {
		return Message{Role: RoleUser, Content: content}
	}
	return Message{Role: RoleUser, Parts: parts}
}
