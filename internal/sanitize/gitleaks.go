package sanitize

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// RuleGitleaksPrefix prefixes rule IDs reported by the gitleaks scanner,
// e.g. "gitleaks:slack-bot-token".
const RuleGitleaksPrefix = "gitleaks:"

// secretScanner finds secrets with the gitleaks default configuration
// (several hundred vendor rules with keyword prefilters and entropy
// checks). Calls are serialized on one detector.
type secretScanner struct {
	mu       sync.Mutex
	detector *detect.Detector
}

func newSecretScanner() (*secretScanner, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	return &secretScanner{detector: d}, nil
}

// find returns a span for every occurrence in s of each secret gitleaks
// reports.
func (sc *secretScanner) find(s string) []Match {
	sc.mu.Lock()
	findings := sc.detector.DetectString(s)
	sc.mu.Unlock()

	var out []Match
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		for off := 0; off < len(s); {
			i := strings.Index(s[off:], f.Secret)
			if i < 0 {
				break
			}
			start := off + i
			out = append(out, Match{
				Start:  start,
				End:    start + len(f.Secret),
				RuleID: RuleGitleaksPrefix + f.RuleID,
			})
			off = start + len(f.Secret)
		}
	}
	return out
}
