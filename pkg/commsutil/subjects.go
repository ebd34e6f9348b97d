package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectRequestPrefix = "fleet.agent"
	SubjectReplyPrefix   = "fleet.reply"
	SubjectEvents        = "fleet.events"
)

// SanitizeIdentity makes an agent identity safe for use as a subject
// token. Dots are token separators on the wire, so a dotted hostname
// would otherwise split into several tokens.
func SanitizeIdentity(identity string) string {
	return strings.ReplaceAll(identity, ".", "_")
}

// BuildRequestSubject builds the COMMS subject an agent listens on for
// action requests.
func BuildRequestSubject(identity string) string {
	return fmt.Sprintf("%s.%s.v1", SubjectRequestPrefix, SanitizeIdentity(identity))
}

// BuildReplySubject builds the COMMS subject responses are sent to when
// the request carries no reply inbox.
func BuildReplySubject(identity string) string {
	return fmt.Sprintf("%s.%s.v1", SubjectReplyPrefix, SanitizeIdentity(identity))
}

// BuildEventSubject builds the granular per-agent event subject.
func BuildEventSubject(identity string) string {
	return fmt.Sprintf("%s.%s", SubjectEvents, SanitizeIdentity(identity))
}
