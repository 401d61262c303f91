// Package extract validates LLM output against the marker protocol and
// cleans the delimited payload for its target format.
//
// A well-formed response contains exactly one @@@START@@@ marker followed by
// exactly one @@@END@@@ marker with non-empty content between them.
package extract

import (
	"fmt"
	"strings"

	apierrors "github.com/olgasafonova/confluence-spec-mcp-server/internal/errors"
)

const (
	StartMarker = "@@@START@@@"
	EndMarker   = "@@@END@@@"
)

// Payload returns the trimmed text between the markers. Violations are
// classified:
//   - both markers absent: escapeMarker with neither found (critical)
//   - a marker repeated: escapeMarker
//   - only one marker present: escapeMarker with one found (partial)
//   - end before start: escapeMarker
//   - nothing between the markers: contentFormat
func Payload(raw string) (string, error) {
	starts := strings.Count(raw, StartMarker)
	ends := strings.Count(raw, EndMarker)

	switch {
	case starts == 0 && ends == 0:
		return "", apierrors.NewEscapeMarkerError("response contains no content markers", false, false)
	case starts > 1 || ends > 1:
		return "", apierrors.NewEscapeMarkerError("response contains duplicated content markers", starts > 0, ends > 0).
			WithDetails(fmt.Sprintf("start markers: %d, end markers: %d", starts, ends))
	case ends == 0:
		return "", apierrors.NewEscapeMarkerError("response is missing the end marker", true, false)
	case starts == 0:
		return "", apierrors.NewEscapeMarkerError("response is missing the start marker", false, true)
	}

	si := strings.Index(raw, StartMarker)
	ei := strings.Index(raw, EndMarker)
	if ei < si {
		return "", apierrors.NewEscapeMarkerError("end marker appears before start marker", true, true)
	}

	payload := strings.TrimSpace(raw[si+len(StartMarker) : ei])
	if payload == "" {
		return "", apierrors.New(apierrors.KindContentFormat, "no content between the markers").
			WithRecovery("Regenerate the document.")
	}
	return payload, nil
}
