package engine

// Chunk is the half-open record range [Start, End).
type Chunk struct {
	Start int
	End   int
}

func (c Chunk) Len() int { return c.End - c.Start }

// Split partitions n records into contiguous chunks of at most size records.
func Split(n, size int) []Chunk {
	if n <= 0 || size <= 0 {
		return nil
	}
	chunks := make([]Chunk, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		chunks = append(chunks, Chunk{Start: start, End: end})
	}
	return chunks
}
