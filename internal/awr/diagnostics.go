package awr

import (
	"context"
	"errors"
	"net/http"
)

// TriggerAnalysis starts a diagnostic run. A report that is not parsed yields
// an InvalidStateError. The ack is not the result: fetch Diagnostics
// afterwards, and when Complete is false keep fetching until the summary's
// RunID reaches ack.RunID.
func (c *Client) TriggerAnalysis(ctx context.Context, id int64) (*AnalysisAck, error) {
	var ack AnalysisAck
	_, err := c.doJSON(ctx, request{
		method:    http.MethodPost,
		url:       c.reportURL(id, "/analyze"),
		operation: opTriggerAnalysis,
	}, &ack)
	if err != nil {
		return nil, asInvalidState(err, opTriggerAnalysis, id)
	}
	if ack.ReportID == 0 {
		ack.ReportID = id
	}
	return &ack, nil
}

// Diagnostics fetches the report's current diagnostic set. found is false
// when no run has completed yet; that is not an error. When the newest run
// failed the error is an AnalysisFailedError. The summary counts are
// recomputed from the returned list and never taken from the wire.
func (c *Client) Diagnostics(ctx context.Context, id int64) (summary *DiagnosticSummary, found bool, err error) {
	var wire DiagnosticSummary
	status, err := c.doJSON(ctx, request{
		method:    http.MethodGet,
		url:       c.reportURL(id, "/diagnostics"),
		operation: opDiagnostics,
	}, &wire)
	if err != nil {
		return nil, false, asAnalysisFailed(err, id)
	}
	if status == http.StatusNoContent {
		return nil, false, nil
	}
	reportID := wire.ReportID
	if reportID == 0 {
		reportID = id
	}
	s := Summarize(reportID, wire.RunID, wire.Diagnostics)
	return &s, true, nil
}

func asAnalysisFailed(err error, id int64) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.code != CodeAnalysisFailed {
		return err
	}
	return &AnalysisFailedError{reportID: id, runID: apiErr.runID, detail: apiErr.Detail()}
}
