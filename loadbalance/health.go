package loadbalance

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"opengemini-client/completion"
)

// healthLoop probes every server once per period until Close. The next
// round is scheduled only after the previous one finished.
func (b *ServerBalancer) healthLoop() {
	timer := time.NewTimer(b.period)
	defer timer.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-timer.C:
		}
		b.checkHealth()
		timer.Reset(b.period)
	}
}

// checkHealth runs one probe round. Probe failures only flip health flags.
func (b *ServerBalancer) checkHealth() {
	var g errgroup.Group
	g.SetLimit(b.probeLimit)

	for _, s := range b.servers {
		s := s
		g.Go(func() error {
			resp, err := b.prober.Probe(s.ep, b.healthPath, completion.Sync)
			healthy := err == nil && resp != nil && resp.StatusCode == http.StatusNoContent

			if was := s.good.Swap(healthy); was != healthy {
				fields := []zap.Field{zap.Stringer("endpoint", s.ep), zap.Bool("healthy", healthy)}
				if err != nil {
					fields = append(fields, zap.Error(err))
				} else if resp != nil {
					fields = append(fields, zap.Int("status", resp.StatusCode))
				}
				b.logger.Info("server health changed", fields...)
			}
			b.metrics.RecordServerHealth(s.ep.String(), healthy)
			return nil
		})
	}
	g.Wait()
}
