//go:build !darwin

package vm

// Task is a Mach task port name. Outside darwin no task can be obtained.
type Task uint32

func TaskSelf() Task { return 0 }

func TaskForPID(pid int) (Task, error) { return 0, ErrUnsupported }

func (t Task) Close() error { return nil }

func (t Task) PID() (int, error) { return 0, ErrUnsupported }

func NewQuerier(task Task) (Querier, error) { return nil, ErrUnsupported }
