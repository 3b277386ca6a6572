package testkit

import (
	"fmt"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// CheckDiagnosticsInvariants runs a minimal set of consistency checks on the
// diagnostics aggregator state:
// 1) every group entry stored under a file is listed in that group's affects set
// 2) every file in a group's affects set carries that group's stored entry
// 3) no file appears twice within one group's affects set
// 4) no file maps to an empty group set (the file is dropped with its last group)
func CheckDiagnosticsInvariants(
	pathDiags map[uri.URI]map[string][]protocol.Diagnostic,
	affects map[string][]uri.URI,
) error {
	if pathDiags == nil || affects == nil {
		return fmt.Errorf("nil state maps")
	}

	// 1) stored entries are backed by affects; 4) no empty file entries
	for fileURI, byGroup := range pathDiags {
		if len(byGroup) == 0 {
			return fmt.Errorf("file %s maps to an empty group set", fileURI)
		}
		for group := range byGroup {
			if !affectsContains(affects[group], fileURI) {
				return fmt.Errorf("file %s stores group %q but the group's affects set does not list it", fileURI, group)
			}
		}
	}

	// 2) affects entries are backed by stored diagnostics; 3) no duplicates
	for group, files := range affects {
		seen := make(map[uri.URI]struct{}, len(files))
		for _, fileURI := range files {
			if _, dup := seen[fileURI]; dup {
				return fmt.Errorf("group %q lists file %s twice", group, fileURI)
			}
			seen[fileURI] = struct{}{}
			if _, ok := pathDiags[fileURI][group]; !ok {
				return fmt.Errorf("group %q affects file %s but no entry is stored for it", group, fileURI)
			}
		}
	}
	return nil
}

func affectsContains(files []uri.URI, fileURI uri.URI) bool {
	for _, f := range files {
		if f == fileURI {
			return true
		}
	}
	return false
}
