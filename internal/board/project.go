package board

// AggregateStatus derives a project's status from its task counts. A project
// with no tasks stays active; it completes once every task is complete.
func AggregateStatus(total, incomplete int) ProjectStatus {
	if total > 0 && incomplete == 0 {
		return ProjectCompleted
	}
	return ProjectActive
}
