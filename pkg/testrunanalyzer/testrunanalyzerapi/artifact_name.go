package testrunanalyzerapi

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const artifactTimeLayout = "20060102-150405"

var (
	// extensions of stored extracts and of the raw recordings they were produced from
	knownExtensions = []string{".json", ".yaml", ".yml", ".7z", ".zip", ".etl"}

	// TestCase_3117msMACHINE.20200717-124447 or TestCase_3117msMACHINE-20200717-124447
	artifactNameRegex = regexp.MustCompile(`^([^_]+)_(\d+)[mM][sS](.+?)(?:[.-](\d{8}-\d{6}))?$`)
)

// ArtifactName is the metadata encoded in the name of an automated test artifact.
type ArtifactName struct {
	TestName    string
	Duration    time.Duration
	Machine     string
	PerformedAt time.Time
	// Valid is false when the name does not follow the automated test naming scheme.
	// TestName is the file stem in that case.
	Valid bool
}

func ParseArtifactName(name string) ArtifactName {
	stem := path.Base(name)
	for _, ext := range knownExtensions {
		if strings.HasSuffix(strings.ToLower(stem), ext) {
			stem = stem[:len(stem)-len(ext)]
			break
		}
	}

	matches := artifactNameRegex.FindStringSubmatch(stem)
	if matches == nil {
		return ArtifactName{TestName: stem}
	}
	ms, err := strconv.ParseInt(matches[2], 10, 64)
	if err != nil {
		return ArtifactName{TestName: stem}
	}

	ret := ArtifactName{
		TestName: matches[1],
		Duration: time.Duration(ms) * time.Millisecond,
		Machine:  matches[3],
		Valid:    true,
	}
	if len(matches[4]) > 0 {
		if performedAt, err := time.Parse(artifactTimeLayout, matches[4]); err == nil {
			ret.PerformedAt = performedAt
		}
	}
	return ret
}
