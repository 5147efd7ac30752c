package downloader

import (
	"golang.org/x/time/rate"
)

// maxPartial caps fractions reported while bytes are still arriving;
// 1.0 is only reported once the file is complete.
const maxPartial = 0.999

// progressWriter counts bytes and reports a throttled, non-decreasing
// completion fraction.
type progressWriter struct {
	total   int64
	written int64
	last    float64
	limiter *rate.Limiter
	report  func(float64)
}

func newProgressWriter(total int64, every rate.Limit, report func(float64)) *progressWriter {
	return &progressWriter{
		total:   total,
		limiter: rate.NewLimiter(every, 1),
		report:  report,
	}
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total <= 0 || p.report == nil || !p.limiter.Allow() {
		return len(b), nil
	}
	f := float64(p.written) / float64(p.total)
	if f > maxPartial {
		f = maxPartial
	}
	if f > p.last {
		p.last = f
		p.report(f)
	}
	return len(b), nil
}

func (p *progressWriter) finish() {
	if p.report != nil && p.last < 1 {
		p.last = 1
		p.report(1)
	}
}
