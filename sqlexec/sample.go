package sqlexec

// Default sampling bounds. Result sets above the threshold are cut down to
// the first head and last tail rows before leaving the executor; RowCount
// keeps reporting the full count.
const (
	SampleThreshold = 1000
	SampleHead      = 500
	SampleTail      = 500
)

// sampleN applies the head/tail policy in place on the result.
func sampleN(res *Result, threshold, head, tail int) {
	if res == nil || len(res.Data) <= threshold {
		return
	}
	first := res.Data[:head]
	last := res.Data[len(res.Data)-tail:]

	sampled := make([]map[string]any, 0, head+tail)
	sampled = append(sampled, first...)
	sampled = append(sampled, last...)

	res.Data = sampled
	res.Sampled = true
}
