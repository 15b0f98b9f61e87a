package launcher

import "github.com/visreg/visreg/screenshot"

// Aggregate returns the results of one command in issue order. Nil entries
// are kept as placeholders so the length always equals the number of
// target images.
func Aggregate(results []*screenshot.Result) []*screenshot.Result {
	out := make([]*screenshot.Result, len(results))
	copy(out, results)
	return out
}

// collector gathers results of one command by target index
type collector struct {
	slots []*screenshot.Result
}

func newCollector(targets int) *collector {
	return &collector{slots: make([]*screenshot.Result, targets)}
}

func (c *collector) collect(index int, result *screenshot.Result) {
	c.slots[index] = result
}

func (c *collector) results() []*screenshot.Result {
	return Aggregate(c.slots)
}
