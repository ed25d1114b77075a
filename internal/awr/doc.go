// Package awr is the client core for the AWR report service: upload
// submission, lifecycle reconciliation, diagnostic retrieval and list
// pagination, plus the data contract shared with the server.
//
// Usage:
//
//	cfg := awr.DefaultConfig()
//	cfg.BaseURL = "http://awr.internal:8000/api/v1"
//	client, err := awr.New(cfg, awr.WithLogger(logger))
//	h, err := client.SubmitFile(ctx, "report1.html")
//	r, err := client.WaitForTerminal(ctx, h.ID, nil)
//	ack, err := client.TriggerAnalysis(ctx, h.ID)
//	summary, err := client.WaitForDiagnostics(ctx, h.ID, ack.RunID)
//
// Errors fall into ValidationError (local, before any request), TransportError
// and TimeoutError (no response), APIError (non-2xx with a detail string) and
// InvalidStateError (the report's status forbids the operation). Use the Is*
// predicates to inspect them and UserMessage to display them.
package awr
