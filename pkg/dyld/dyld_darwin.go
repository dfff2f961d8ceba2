//go:build darwin

package dyld

/*
#include <stdint.h>
#include <mach/mach.h>
#include <mach/task_info.h>
#include <mach-o/dyld_images.h>

static kern_return_t machmap_all_image_infos(const struct dyld_all_image_infos **out) {
	struct task_dyld_info info;
	mach_msg_type_number_t count = TASK_DYLD_INFO_COUNT;
	kern_return_t kr = task_info(mach_task_self(), TASK_DYLD_INFO, (task_info_t)&info, &count);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	*out = (const struct dyld_all_image_infos *)(uintptr_t)info.all_image_info_addr;
	return KERN_SUCCESS;
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type loaderTable struct{}

// SelfTable returns the calling process's dyld_all_image_infos table, found
// through task_info(TASK_DYLD_INFO).
func SelfTable() (Table, error) {
	return loaderTable{}, nil
}

func (loaderTable) Entries() ([]Entry, error) {
	var infos *C.struct_dyld_all_image_infos
	if kr := C.machmap_all_image_infos(&infos); kr != C.KERN_SUCCESS {
		return nil, fmt.Errorf("%w: task_info(TASK_DYLD_INFO): kern_return %#x", ErrTableUnavailable, int32(kr))
	}
	if infos == nil {
		return nil, fmt.Errorf("%w: all_image_info_addr is NULL", ErrTableUnavailable)
	}
	// dyld clears infoArray while it rewrites the list.
	if infos.infoArray == nil {
		return nil, fmt.Errorf("%w: image array is being updated", ErrTableUnavailable)
	}
	return decodeImageInfos(unsafe.Slice(infos.infoArray, int(infos.infoArrayCount))), nil
}

// decodeImageInfos copies the loader-owned records into Go memory.
func decodeImageInfos(raw []C.struct_dyld_image_info) []Entry {
	entries := make([]Entry, 0, len(raw))
	for _, info := range raw {
		e := Entry{LoadAddress: uint64(uintptr(unsafe.Pointer(info.imageLoadAddress)))}
		if info.imageFilePath != nil {
			e.FilePath = C.GoString(info.imageFilePath)
		}
		entries = append(entries, e)
	}
	return entries
}
