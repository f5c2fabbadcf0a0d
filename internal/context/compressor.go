package context

// HeadKeepingCompressor keeps the system turn at index 0 plus the most
// recent turns, for a total of at most MaxTurns.
type HeadKeepingCompressor struct {
	MaxTurns int
}

// Compress returns min(MaxTurns, len(turns)) turns. The head turn is always
// kept; MaxTurns < 1 yields just the head.
func (c *HeadKeepingCompressor) Compress(turns []Turn) []Turn {
	if len(turns) == 0 {
		return nil
	}
	limit := c.MaxTurns
	if limit < 1 {
		limit = 1
	}
	if len(turns) <= limit {
		return append([]Turn(nil), turns...)
	}
	out := make([]Turn, 0, limit)
	out = append(out, turns[0])
	out = append(out, turns[len(turns)-(limit-1):]...)
	return out
}
