package upload

import "io"

// progressReader counts bytes pulled from the wrapped reader and reports
// whole-percent changes. Reporting happens inline with the copy, so events
// are naturally coalesced: a percent is emitted at most once per attempt.
type progressReader struct {
	reader  io.Reader
	total   int64
	sent    int64
	lastPct int
	report  func(percent int) error
}

func newProgressReader(r io.Reader, total int64, report func(percent int) error) *progressReader {
	return &progressReader{reader: r, total: total, lastPct: -1, report: report}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		if pct := p.percent(); pct != p.lastPct {
			p.lastPct = pct
			if p.report != nil {
				if reportErr := p.report(pct); reportErr != nil {
					return n, reportErr
				}
			}
		}
	}
	return n, err
}

func (p *progressReader) percent() int {
	if p.total <= 0 {
		return 0
	}
	pct := int(p.sent * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	return pct
}
