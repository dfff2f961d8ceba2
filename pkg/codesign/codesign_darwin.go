//go:build darwin

package codesign

/*
#cgo LDFLAGS: -framework Security -framework CoreFoundation
#include <stdlib.h>
#include <sys/types.h>
#include <CoreFoundation/CoreFoundation.h>
#include <Security/Security.h>

static int machmap_path_for_pid(pid_t pid, char *buf, CFIndex len) {
	CFNumberRef value = NULL;
	CFDictionaryRef attributes = NULL;
	SecCodeRef code = NULL;
	CFURLRef url = NULL;
	CFStringRef path = NULL;
	int ok = 0;

	value = CFNumberCreate(kCFAllocatorDefault, kCFNumberSInt32Type, &pid);
	if (value == NULL)
		goto done;

	attributes = CFDictionaryCreate(kCFAllocatorDefault, (const void **)&kSecGuestAttributePid,
		(const void **)&value, 1, NULL, NULL);
	if (attributes == NULL)
		goto done;

	if (SecCodeCopyGuestWithAttributes(NULL, attributes, kSecCSDefaultFlags, &code) != errSecSuccess)
		goto done;

	if (SecCodeCopyPath(code, kSecCSDefaultFlags, &url) != errSecSuccess)
		goto done;

	path = CFURLCopyFileSystemPath(url, kCFURLPOSIXPathStyle);
	if (path == NULL)
		goto done;

	ok = CFStringGetCString(path, buf, len, kCFStringEncodingUTF8);

done:
	if (path)       CFRelease(path);
	if (url)        CFRelease(url);
	if (code)       CFRelease(code);
	if (attributes) CFRelease(attributes);
	if (value)      CFRelease(value);
	return ok;
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"machmap/pkg/pathutil"
)

const maxPathLen = 4 * 1024 // PROC_PIDPATHINFO_MAXSIZE

func identityPath(pid int) (string, error) {
	if p, ok := securityPath(pid); ok {
		return p, nil
	}
	return procArgsPath(pid)
}

// securityPath asks the code signing subsystem for the guest code of pid.
func securityPath(pid int) (string, bool) {
	buf := (*C.char)(C.malloc(maxPathLen))
	defer C.free(unsafe.Pointer(buf))
	if C.machmap_path_for_pid(C.pid_t(pid), buf, maxPathLen) == 0 {
		return "", false
	}
	return C.GoString(buf), true
}

// procArgsPath reads the exec path the kernel saved at the front of
// kern.procargs2: a 32-bit argc followed by the NUL-terminated path.
func procArgsPath(pid int) (string, error) {
	raw, err := unix.SysctlRaw("kern.procargs2", pid)
	if err != nil {
		return "", fmt.Errorf("sysctl kern.procargs2: %w", err)
	}
	if len(raw) <= 4 {
		return "", fmt.Errorf("%w: short procargs2 buffer", ErrNotFound)
	}
	return pathutil.CString(raw[4:]), nil
}
