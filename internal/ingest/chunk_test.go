package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_ReassemblesInOrder(t *testing.T) {
	for n := 0; n <= 37; n++ {
		items := make([]int, n)
		for i := range items {
			items[i] = i
		}

		for w := 1; w <= 9; w++ {
			chunks := Chunk(items, w)

			var joined []int
			for _, c := range chunks {
				require.NotEmpty(t, c, "n=%d w=%d produced an empty chunk", n, w)
				joined = append(joined, c...)
			}
			if n == 0 {
				assert.Nil(t, chunks)
				continue
			}

			assert.Equal(t, items, joined, "n=%d w=%d", n, w)
			assert.LessOrEqual(t, len(chunks), w)

			size := (n + w - 1) / w
			assert.Equal(t, (n+size-1)/size, len(chunks), "n=%d w=%d", n, w)
		}
	}
}

func TestChunk_FewerRowsThanWorkers(t *testing.T) {
	chunks := Chunk([]string{"a", "b"}, 4)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, chunks)
}

func TestChunk_InvalidWorkers(t *testing.T) {
	chunks := Chunk([]int{1, 2, 3}, 0)
	assert.Equal(t, [][]int{{1, 2, 3}}, chunks)
}

func TestChunk_AppendDoesNotClobberNeighbour(t *testing.T) {
	items := []int{1, 2, 3, 4}
	chunks := Chunk(items, 2)
	_ = append(chunks[0], 99)
	assert.Equal(t, []int{3, 4}, chunks[1])
}

func TestMakeBatches(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{"five by two", 5, 2, []int{2, 2, 1}},
		{"exact multiple", 4, 2, []int{2, 2}},
		{"single batch", 3, 1000, []int{3}},
		{"empty", 0, 2, nil},
		{"invalid size falls back to default", 1500, 0, []int{1000, 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := MakeBatches(makeRecords(tt.n), tt.size)
			var sizes []int
			for _, b := range batches {
				sizes = append(sizes, len(b))
			}
			assert.Equal(t, tt.sizes, sizes)
		})
	}
}
