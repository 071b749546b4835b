package build

// GroupStatus is the derived aggregate status of a build group. It is never
// set directly by a subscriber; the group coordinator recomputes it from the
// member task statuses.
type GroupStatus string

const (
	GroupPending        GroupStatus = "PENDING"
	GroupRunning        GroupStatus = "RUNNING"
	GroupDone           GroupStatus = "DONE"
	GroupDoneWithErrors GroupStatus = "DONE_WITH_ERRORS"
)

// Terminal reports whether the group has reached a final aggregate state.
func (s GroupStatus) Terminal() bool {
	return s == GroupDone || s == GroupDoneWithErrors
}

// AggregateStatus derives the group status from member task statuses.
//   - any non-terminal member keeps the group running (or pending when no
//     member has started);
//   - all terminal with at least one failing member -> DONE_WITH_ERRORS;
//   - all terminal, none failing -> DONE.
func AggregateStatus(members []Status) GroupStatus {
	if len(members) == 0 {
		return GroupDone
	}
	allTerminal := true
	anyFailing := false
	anyStarted := false
	for _, s := range members {
		if !s.Terminal() {
			allTerminal = false
			if s != StatusNew && s != StatusWaitingForDependencies {
				anyStarted = true
			}
			continue
		}
		anyStarted = true
		if s.Failing() {
			anyFailing = true
		}
	}
	if !allTerminal {
		if anyStarted {
			return GroupRunning
		}
		return GroupPending
	}
	if anyFailing {
		return GroupDoneWithErrors
	}
	return GroupDone
}
