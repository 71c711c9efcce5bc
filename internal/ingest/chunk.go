package ingest

// Chunk partitions items into at most workers contiguous sub-slices of
// ceil(N/workers) elements each. The chunks share items' backing array and
// their concatenation is items in order. No chunk is empty; N=0 yields nil.
func Chunk[T any](items []T, workers int) [][]T {
	n := len(items)
	if n == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}

	size := (n + workers - 1) / workers
	chunks := make([][]T, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// MakeBatches splits records into consecutive batches of size records;
// the last batch holds the remainder.
func MakeBatches(records []Record, size int) [][]Record {
	if len(records) == 0 {
		return nil
	}
	if size < 1 {
		size = DefaultBatchSize
	}

	batches := make([][]Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end:end])
	}
	return batches
}
