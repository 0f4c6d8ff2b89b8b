package guard

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var (
	requestVerdicts = verdictCounters("request")
	connectVerdicts = verdictCounters("connect")

	clientsCreated = metrics.NewCounter(`doorman_clients_created_total`)
	misbehaviors   = metrics.NewCounter(`doorman_misbehavior_reports_total`)
	storeErrors    = metrics.NewCounter(`doorman_storage_errors_total`)
)

func verdictCounters(op string) [3]*metrics.Counter {
	var cs [3]*metrics.Counter
	for i, v := range []Verdict{Allow, BlockT1, BlockT2} {
		cs[i] = metrics.NewCounter(fmt.Sprintf(`doorman_verdicts_total{op=%q,verdict=%q}`, op, v))
	}
	return cs
}
