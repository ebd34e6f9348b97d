package puppet

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// rubyTagPrefix opens the document header puppet writes. The YAML
// decoder rejects the ruby object tag, so that header line is dropped
// before decoding.
const rubyTagPrefix = "--- !ruby/object:"

// LastRunReport carries the report fields a run result exposes. The
// report holds far more (logs, metrics, resource statuses); everything
// undeclared here is skipped by the decoder.
type LastRunReport struct {
	Kind            string `yaml:"kind"`
	Time            string `yaml:"time"`
	TransactionUUID string `yaml:"transaction_uuid"`
	Environment     string `yaml:"environment"`
	Status          string `yaml:"status"`
}

// ParseLastRunReport reads and decodes the puppet last run report at
// path.
func ParseLastRunReport(path string) (*LastRunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading last run report: %v", err)
	}

	text := string(data)
	if strings.HasPrefix(text, rubyTagPrefix) {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		} else {
			text = ""
		}
	}

	var report LastRunReport
	if err := yaml.Unmarshal([]byte(text), &report); err != nil {
		return nil, fmt.Errorf("parsing last run report: %v", err)
	}
	return &report, nil
}

// orUnknown substitutes the unknown sentinel for report values that are
// missing or empty.
func orUnknown(value string) string {
	if value == "" {
		return Unknown
	}
	return value
}
