package observe

// Observation is passive.
// Nothing in this package issues requests of its own.

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/dm-alt/USM-scripts/pkg/models"
)

// DefaultTargetCollection is the collection derived jobs are submitted to.
const DefaultTargetCollection = "workload"

// <prefix>/metrics/<collection>/<64 hex id>
var metricsPathRE = regexp.MustCompile(`^(.*/metrics)/([^/]+)/([0-9a-f]{64})/?$`)

// CorrelationIDRE matches a well-formed correlation id.
var CorrelationIDRE = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Matcher recognizes metrics job URLs and derives the endpoints a pipeline
// run needs from them.
type Matcher struct {
	// TargetCollection replaces the observed collection in the submission
	// endpoint. Defaults to DefaultTargetCollection.
	TargetCollection string
}

// Match extracts the correlation context from rawURL. Query strings and
// fragments are ignored. ObservedAt is left zero; the Observer stamps it.
func (m Matcher) Match(rawURL string) (*models.ObservedRequest, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, false
	}
	u.RawQuery = ""
	u.Fragment = ""

	path := u.EscapedPath()
	parts := metricsPathRE.FindStringSubmatch(path)
	if parts == nil {
		return nil, false
	}
	prefixPath, collection, id := parts[1], parts[2], parts[3]

	origin := ""
	if u.Scheme != "" && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}

	target := m.TargetCollection
	if target == "" {
		target = DefaultTargetCollection
	}

	return &models.ObservedRequest{
		URL:                rawURL,
		CorrelationID:      id,
		Collection:         collection,
		BaseEndpoint:       origin + prefixPath + "/" + collection,
		SubmissionEndpoint: origin + prefixPath + "/" + target,
	}, true
}
