package engine

// Partition is the band of global rows one rank owns for one board size
type Partition struct {
	Rank  int
	Ranks int
	Size  int

	// LocalRows is the height of the band
	LocalRows int

	// RowOffset is the number of global rows above the band
	RowOffset int
}

// NewPartition computes rank's band of a size x size board split across
// ranks. It fails with a PartitionError when size is not a multiple of ranks.
func NewPartition(size, ranks, rank int) (Partition, error) {
	if size <= 0 || ranks <= 0 {
		return Partition{}, configError("size %d across %d ranks", size, ranks)
	}
	if rank < 0 || rank >= ranks {
		return Partition{}, configError("rank %d out of range for %d ranks", rank, ranks)
	}
	if size%ranks != 0 {
		return Partition{}, &PartitionError{Size: size, Ranks: ranks}
	}

	local := size / ranks
	return Partition{
		Rank:      rank,
		Ranks:     ranks,
		Size:      size,
		LocalRows: local,
		RowOffset: rank * local,
	}, nil
}

// Plan returns every rank's partition for size
func Plan(size, ranks int) ([]Partition, error) {
	if ranks <= 0 {
		return nil, configError("size %d across %d ranks", size, ranks)
	}
	parts := make([]Partition, ranks)
	for r := range parts {
		p, err := NewPartition(size, ranks, r)
		if err != nil {
			return nil, err
		}
		parts[r] = p
	}
	return parts, nil
}
