package bus

import "fmt"

// ControlDone is the sentinel payload that terminates a subscriber.
const ControlDone = "done"

// ControlTopic is computed for a run's in-band control channel.
func ControlTopic(runID string) string {
	return fmt.Sprintf("run:%s:control", runID)
}

// StreamTopic is computed for a run's payload events under the given
// stream-mode subtopic (e.g. "values", "updates", "messages").
func StreamTopic(runID, subtopic string) string {
	return fmt.Sprintf("run:%s:stream:%s", runID, subtopic)
}
