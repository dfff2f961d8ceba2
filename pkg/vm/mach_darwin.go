//go:build darwin

package vm

/*
#include <stdlib.h>
#include <unistd.h>
#include <libproc.h>
#include <sys/proc_info.h>
#include <mach/mach.h>
#include <mach/mach_error.h>
#include <mach/mach_traps.h>

static mach_port_t machmap_task_self() {
	return mach_task_self();
}

static kern_return_t machmap_region_recurse(mach_port_t task, vm_address_t *addr, vm_size_t *size,
		natural_t *depth, vm_region_submap_info_data_64_t *info) {
	mach_msg_type_number_t count = VM_REGION_SUBMAP_INFO_COUNT_64;
	return vm_region_recurse_64(task, addr, size, depth, (vm_region_recurse_info_t)info, &count);
}

static kern_return_t machmap_task_for_pid(int pid, mach_port_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}

static kern_return_t machmap_task_release(mach_port_t task) {
	return mach_port_deallocate(mach_task_self(), task);
}
*/
import "C"

import (
	"unsafe"

	"machmap/pkg/pathutil"
)

// Task is a Mach task port name.
type Task uint32

// TaskSelf returns the calling process's own task port. It never needs Close.
func TaskSelf() Task {
	return Task(C.machmap_task_self())
}

// TaskForPID acquires the task port of pid. This needs root or the
// com.apple.security.cs.debugger entitlement for any process but our own.
func TaskForPID(pid int) (Task, error) {
	if pid <= 0 {
		return 0, ErrInvalidTask
	}
	var task C.mach_port_t
	if kr := C.machmap_task_for_pid(C.int(pid), &task); kr != C.KERN_SUCCESS {
		return 0, kernError("task_for_pid", kr)
	}
	return Task(task), nil
}

// Close releases a task port acquired with TaskForPID.
func (t Task) Close() error {
	if t == 0 || t == TaskSelf() {
		return nil
	}
	if kr := C.machmap_task_release(C.mach_port_t(t)); kr != C.KERN_SUCCESS {
		return kernError("mach_port_deallocate", kr)
	}
	return nil
}

// PID resolves the process identifier behind t.
func (t Task) PID() (int, error) {
	if t == TaskSelf() {
		return int(C.getpid()), nil
	}
	var pid C.int
	if kr := C.pid_for_task(C.mach_port_name_t(t), &pid); kr != C.KERN_SUCCESS {
		return 0, kernError("pid_for_task", kr)
	}
	return int(pid), nil
}

type machQuerier struct {
	task Task
	pid  int
}

// NewQuerier binds a Querier to task using vm_region_recurse_64 for regions
// and proc_regionfilename for backing paths.
func NewQuerier(task Task) (Querier, error) {
	if task == 0 {
		return nil, ErrInvalidTask
	}
	pid, err := task.PID()
	if err != nil {
		return nil, err
	}
	return &machQuerier{task: task, pid: pid}, nil
}

func (q *machQuerier) Recurse(addr uint64, depth uint32) (RawRegion, error) {
	var (
		info    C.vm_region_submap_info_data_64_t
		address = C.vm_address_t(addr)
		size    C.vm_size_t
		nesting = C.natural_t(depth)
	)
	kr := C.machmap_region_recurse(C.mach_port_t(q.task), &address, &size, &nesting, &info)
	switch kr {
	case C.KERN_SUCCESS:
	case C.KERN_INVALID_ADDRESS:
		return RawRegion{}, ErrNoMoreRegions
	default:
		return RawRegion{}, kernError("vm_region_recurse_64", kr)
	}
	return decodeSubmapInfo(uint64(address), uint64(size), uint32(nesting), &info), nil
}

// decodeSubmapInfo is the only place the kernel-filled record is read.
func decodeSubmapInfo(addr, size uint64, depth uint32, info *C.vm_region_submap_info_data_64_t) RawRegion {
	return RawRegion{
		Start:         addr,
		Size:          size,
		Depth:         depth,
		Protection:    Protection(info.protection) & ProtAll,
		MaxProtection: Protection(info.max_protection) & ProtAll,
		ShareMode:     ParseShareMode(uint8(info.share_mode)),
		IsSubmap:      info.is_submap != 0,
		UserTag:       uint32(info.user_tag),
		Offset:        uint64(info.offset),
		ObjectID:      uint32(info.object_id),
		RefCount:      uint32(info.ref_count),
		PagesResident: uint32(info.pages_resident),
	}
}

func (q *machQuerier) RegionFilename(addr uint64) (string, error) {
	buf := make([]byte, C.PROC_PIDPATHINFO_MAXSIZE)
	n := C.proc_regionfilename(C.int(q.pid), C.uint64_t(addr), unsafe.Pointer(&buf[0]), C.uint32_t(len(buf)))
	if n <= 0 || buf[0] == 0 {
		return "", nil
	}
	return pathutil.CString(buf[:n]), nil
}

func kernError(op string, kr C.kern_return_t) error {
	return &KernError{
		Op:   op,
		Code: int32(kr),
		Msg:  C.GoString(C.mach_error_string(C.mach_error_t(kr))),
	}
}
