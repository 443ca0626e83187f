package aru

import (
	"context"
	"encoding/xml"

	"github.com/samber/lo"
	"github.com/samber/oops"
	"golang.org/x/xerrors"
)

// ConflictReport is the outcome of a conflict check. Document holds the
// merged-patch groups as an indented XML document for operator review and is
// empty when there are no conflicts.
type ConflictReport struct {
	Conflicts bool
	Sets      [][]string
	Document  string
}

// CheckConflicts asks the catalog whether the candidate patches can be
// installed together on releaseID. It never fails because of conflicts; the
// caller decides what a conflict means.
func (c *Client) CheckConflicts(ctx context.Context, releaseID string, patchIDs []string) (ConflictReport, error) {
	eb := oops.With("release_id", releaseID)

	payload := conflictCheckRequest{Platform: conflictPlatform}
	for _, id := range lo.Uniq(patchIDs) {
		payload.Candidates = append(payload.Candidates, candidatePatch{ReleaseID: releaseID, PatchID: id})
	}
	body, err := xml.Marshal(payload)
	if err != nil {
		return ConflictReport{}, eb.Wrapf(err, "conflict check xml encode error")
	}

	b, err := c.post(ctx, conflictPath, body)
	if err != nil {
		return ConflictReport{}, xerrors.Errorf("failed to check conflicts: %w", err)
	}

	var resp conflictCheckResponse
	if err = xml.Unmarshal(b, &resp); err != nil {
		return ConflictReport{}, eb.Wrapf(err, "conflict check xml decode error")
	}
	return newConflictReport(resp)
}

func newConflictReport(resp conflictCheckResponse) (ConflictReport, error) {
	if resp.ConflictSets == nil {
		return ConflictReport{}, nil
	}

	var report ConflictReport
	results := conflictCheckResults{}
	for _, set := range resp.ConflictSets.Sets {
		for _, mp := range set.MergePatches {
			results.MergePatches = append(results.MergePatches, rawMergePatches{Inner: mp.Inner})
			report.Sets = append(report.Sets, mp.patchIDs())
		}
	}
	if len(results.MergePatches) == 0 {
		return ConflictReport{}, nil
	}

	doc, err := xml.MarshalIndent(results, "", "  ")
	if err != nil {
		return ConflictReport{}, xerrors.Errorf("conflict report xml encode error: %w", err)
	}
	report.Conflicts = true
	report.Document = string(doc)
	return report, nil
}

// MergeReports combines reports from several releases into one report whose
// Document has a single conflict_check_results root.
func MergeReports(reports ...ConflictReport) (ConflictReport, error) {
	conflicting := lo.Filter(reports, func(r ConflictReport, _ int) bool { return r.Conflicts })
	switch len(conflicting) {
	case 0:
		return ConflictReport{}, nil
	case 1:
		return conflicting[0], nil
	}

	merged := ConflictReport{Conflicts: true}
	results := conflictCheckResults{}
	for _, r := range conflicting {
		var doc conflictCheckResults
		if err := xml.Unmarshal([]byte(r.Document), &doc); err != nil {
			return ConflictReport{}, xerrors.Errorf("conflict report xml decode error: %w", err)
		}
		results.MergePatches = append(results.MergePatches, doc.MergePatches...)
		merged.Sets = append(merged.Sets, r.Sets...)
	}

	doc, err := xml.MarshalIndent(results, "", "  ")
	if err != nil {
		return ConflictReport{}, xerrors.Errorf("conflict report xml encode error: %w", err)
	}
	merged.Document = string(doc)
	return merged, nil
}
