package roaming

import (
	"context"
	"fmt"

	"wwcpsync/domain"
	"wwcpsync/outcome"
)

// SendChargeDetailRecords forwards finished charging sessions. In Enqueue
// mode they wait for the next charge-detail-records cycle.
func (a *Adapter) SendChargeDetailRecords(ctx context.Context, cdrs []*domain.ChargeDetailRecord, opts Options) outcome.Batch[*domain.ChargeDetailRecord] {
	opts = a.normalize(opts)
	start := a.now()
	tid := opts.TrackingID

	results := make([]outcome.Result[*domain.ChargeDetailRecord], len(cdrs))
	var direct []int
	for i, c := range cdrs {
		switch {
		case c == nil:
			results[i] = outcome.ArgumentError(c, tid, "cdr", "nil charge detail record")
		case a.sendCDRs == nil:
			results[i] = outcome.NoOperation(c, tid, fmt.Sprintf("%s does not accept charge detail records", a.name))
		case a.cfg.DisableSendChargeDetailRecords:
			results[i] = outcome.NoOperation(c, tid, "sending charge detail records is disabled")
		default:
			if err := c.Validate(); err != nil {
				results[i] = outcome.ArgumentError(c, tid, "cdr", err.Error())
				continue
			}
			if f := a.cfg.ChargeDetailRecordFilter; f != nil && f(c) == domain.CDRFilter {
				results[i] = outcome.NoOperation(c, tid, "filtered")
				continue
			}
			if opts.Mode == Enqueue {
				a.cdrs.Append(c)
				results[i] = outcome.Enqueued(c, tid)
				continue
			}
			direct = append(direct, i)
		}
	}

	if len(direct) > 0 {
		batch := make([]*domain.ChargeDetailRecord, 0, len(direct))
		for _, i := range direct {
			batch = append(batch, cdrs[i])
		}
		sctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		b, err := a.sendCDRs(sctx, batch)
		cancel()

		byID := make(map[string]outcome.Result[*domain.ChargeDetailRecord], b.Len())
		for _, r := range b.Results() {
			if r.Subject() != nil {
				byID[r.Subject().ID] = r
			}
		}
		for _, i := range direct {
			c := cdrs[i]
			r, ok := byID[c.ID]
			switch {
			case ok:
			case err != nil:
				r = outcome.FromError(c, tid, err, opts.Timeout)
			default:
				r = outcome.Success(c, tid)
			}
			results[i] = r
		}
	}

	runtime := a.now().Sub(start)
	b := outcome.Flatten(results...).WithRuntime(runtime)
	a.emitOperation("charge_detail_record", "send", opts, b.Kind(), len(cdrs), runtime)
	return b
}
