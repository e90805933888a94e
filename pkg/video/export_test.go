package video

// LedgerLen reports how many rooms b holds local settings for.
func (b *Base) LedgerLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms)
}
