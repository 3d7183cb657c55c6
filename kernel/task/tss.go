package task

// TaskStateSegStruct publishes the kernel stack pointer used when a trap
// arrives from user mode. The system keeps a single task state segment
// and rewrites ESP0 on every switch to a user thread.
type TaskStateSegStruct struct {
	ESP0 uint32
	SS0  uint32
}

const selKrnlData = 0x10

var taskStateSeg TaskStateSegStruct

// TaskStateSeg returns the shared task state segment.
func TaskStateSeg() *TaskStateSegStruct {
	return &taskStateSeg
}

// Update points ESP0 at the kernel stack bottom of a thread.
func (s *TaskStateSegStruct) Update(t *Thread) {
	s.ESP0 = t.KrnlStackBottom()
}

// InitTaskStateSeg sets up the task state segment for the boot processor.
func InitTaskStateSeg() {
	taskStateSeg.SS0 = selKrnlData
}
