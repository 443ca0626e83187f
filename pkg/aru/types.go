package aru

import (
	"encoding/xml"
	"strings"
)

// Release is one entry of the release catalog.
type Release struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
	Text string `xml:",chardata"`
}

type releaseResults struct {
	XMLName  xml.Name  `xml:"results"`
	Releases []Release `xml:"release"`
}

type patchResults struct {
	XMLName xml.Name    `xml:"results"`
	Patches []patchNode `xml:"patch"`
}

type patchNode struct {
	Name    string `xml:"name"`
	Release struct {
		ID   string `xml:"id,attr"`
		Name string `xml:"name,attr"`
	} `xml:"release"`
	Files []struct {
		Name        string `xml:"name"`
		DownloadURL struct {
			Host string `xml:"host,attr"`
			Path string `xml:",chardata"`
		} `xml:"download_url"`
	} `xml:"files>file"`
}

// The accessors below return false when the field is absent or blank so that
// callers never confuse a missing value with an empty one.

func nonEmpty(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

func (p patchNode) bugName() (string, bool) {
	return nonEmpty(p.Name)
}

func (p patchNode) releaseID() (string, bool) {
	return nonEmpty(p.Release.ID)
}

func (p patchNode) downloadURL() (string, bool) {
	if len(p.Files) == 0 {
		return "", false
	}
	return nonEmpty(p.Files[0].DownloadURL.Path)
}

func (p patchNode) downloadHost() (string, bool) {
	if len(p.Files) == 0 {
		return "", false
	}
	return nonEmpty(p.Files[0].DownloadURL.Host)
}

type conflictCheckRequest struct {
	XMLName         xml.Name         `xml:"conflict_check_request"`
	Platform        string           `xml:"platform"`
	TargetPatchList struct{}         `xml:"target_patch_list"`
	Candidates      []candidatePatch `xml:"candidate_patch_list"`
}

type candidatePatch struct {
	ReleaseID string `xml:"rel_id,attr"`
	PatchID   string `xml:",chardata"`
}

type conflictCheckResponse struct {
	XMLName      xml.Name      `xml:"conflict_check"`
	ConflictSets *conflictSets `xml:"conflict_sets"`
}

type conflictSets struct {
	Sets []struct {
		MergePatches []mergePatches `xml:"merge_patches"`
	} `xml:"set"`
}

type mergePatches struct {
	Inner   string `xml:",innerxml"`
	Patches []struct {
		Text   string `xml:",chardata"`
		Number string `xml:"bug>number"`
	} `xml:"patch"`
}

func (m mergePatches) patchIDs() []string {
	var ids []string
	for _, p := range m.Patches {
		if id, ok := nonEmpty(p.Number); ok {
			ids = append(ids, id)
		} else if id, ok = nonEmpty(p.Text); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

type conflictCheckResults struct {
	XMLName      xml.Name          `xml:"conflict_check_results"`
	MergePatches []rawMergePatches `xml:"merge_patches"`
}

type rawMergePatches struct {
	Inner string `xml:",innerxml"`
}
