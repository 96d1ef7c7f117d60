package memory

func cloneEntry(entry *MemoryEntry) *MemoryEntry {
	if entry == nil {
		return nil
	}
	clone := *entry
	if entry.Embedding != nil {
		clone.Embedding = append([]float32(nil), entry.Embedding...)
	}
	clone.Characters = append([]string(nil), entry.Characters...)
	clone.Keywords = append([]string(nil), entry.Keywords...)
	clone.RelatedMemoryIDs = append([]string(nil), entry.RelatedMemoryIDs...)
	return &clone
}
