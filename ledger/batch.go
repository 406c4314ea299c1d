package ledger

import "context"

// BatchReport is what CommitChunked durably applied.
type BatchReport struct {
	Chunks    int // committed batches
	Mutations int // committed mutations
}

// CommitChunked commits mutations in sequential chunks of at most limit,
// each chunk atomic on its own. It stops at the first failing chunk: chunks
// before it stay applied, chunks after it are never attempted. The report
// always describes what committed, also when err != nil.
//
// A non-positive limit falls back to the committer's BatchLimit.
func CommitChunked(ctx context.Context, c Committer, account AccountID, mutations []Mutation, limit int) (BatchReport, error) {
	if limit <= 0 {
		limit = c.BatchLimit()
	}
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	var report BatchReport
	for start := 0; start < len(mutations); start += limit {
		end := min(start+limit, len(mutations))
		if err := c.Commit(ctx, account, mutations[start:end]); err != nil {
			return report, err
		}
		report.Chunks++
		report.Mutations += end - start
	}
	return report, nil
}

// ChunkCount is ⌈n/limit⌉, the number of commits CommitChunked makes for n mutations.
func ChunkCount(n, limit int) int {
	if n <= 0 || limit <= 0 {
		return 0
	}
	return (n + limit - 1) / limit
}
