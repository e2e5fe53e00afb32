// Package renewal implements silent token renewal.
//
// A renewal for a resource moves through Idle → In Progress → Completed or
// Canceled. At most one renewal per resource is in flight; further callers
// for the same resource are queued onto it through the Registry and all
// receive the same Result. Each renewal state is dispatched exactly once:
// whichever of the inbound response, the timeout or Close comes first wins and
// the others are no-ops.
//
//	orch := renewal.NewOrchestrator(renewal.NewRegistry(), builder, store, agent,
//		renewal.WithTimeout(6*time.Second))
//	orch.RenewToken("https://graph.example.com", func(res renewal.Result) {
//		if err := res.Err(); err != nil {
//			// timeout, provider error or shutdown
//		}
//	})
//	// later, when the redirect arrives:
//	_ = orch.HandleRenewalResponse(state, result)
package renewal
