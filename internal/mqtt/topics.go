package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds the topic tree under a prefix:
//
//	<prefix>/status                 online/offline (retained, LWT)
//	<prefix>/<device>/matrix        last known routing (retained)
//	<prefix>/<device>/connection    acknowledged connect commands
//	<prefix>/<device>/error         query failures
type Topics struct {
	Prefix string
}

func (t Topics) Status() string {
	return t.Prefix + "/status"
}

func (t Topics) Matrix(device string) string {
	return fmt.Sprintf("%s/%s/matrix", t.Prefix, topicSegment(device))
}

func (t Topics) Connection(device string) string {
	return fmt.Sprintf("%s/%s/connection", t.Prefix, topicSegment(device))
}

func (t Topics) Error(device string) string {
	return fmt.Sprintf("%s/%s/error", t.Prefix, topicSegment(device))
}

// topicSegment makes a device name safe as a single topic level.
var segmentReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "-")

func topicSegment(name string) string {
	s := segmentReplacer.Replace(strings.TrimSpace(name))
	if s == "" {
		return "_"
	}
	return s
}
