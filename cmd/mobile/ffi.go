// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libpunchsync.so (Android) / punchsync.framework (iOS)
//
//	go build -buildmode=c-shared -o libpunchsync.so ./cmd/mobile
//
// Every function returning *C.char returns a JSON envelope
// {"ok":bool,"data":...,"error":{"code","message"}} that must be released
// with FreeString.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"

	"github.com/kimhsiao/punchsync/internal/bridge"
)

var core = bridge.New()

// Init opens the attendance core. configPath may be empty; dataDir overrides
// the configured data directory when not empty. Returns 0 on success.
//
//export Init
func Init(configPath, dataDir *C.char) C.int {
	if err := core.Init(C.GoString(configPath), C.GoString(dataDir)); err != nil {
		return 1
	}
	return 0
}

// Cleanup stops the scheduler and closes the stores.
//
//export Cleanup
func Cleanup() {
	core.Close()
}

// GetLastError returns the last error message.
//
//export GetLastError
func GetLastError() *C.char {
	return C.CString(core.LastError())
}

// SubmitPunch records a check-in or check-out for the signed-in employee.
//
//export SubmitPunch
func SubmitPunch(scanType *C.char, lat, lon C.double) *C.char {
	return C.CString(core.SubmitPunch(C.GoString(scanType), float64(lat), float64(lon)))
}

// TodayStatus returns today's punches.
//
//export TodayStatus
func TodayStatus() *C.char {
	return C.CString(core.TodayStatus())
}

// TriggerDrain delivers queued punches and returns the drain result.
//
//export TriggerDrain
func TriggerDrain() *C.char {
	return C.CString(core.TriggerDrain())
}

// PendingCount returns the number of punches awaiting delivery.
//
//export PendingCount
func PendingCount() *C.char {
	return C.CString(core.PendingCount())
}

// Login signs in and stores the session.
//
//export Login
func Login(username, password *C.char) *C.char {
	return C.CString(core.Login(C.GoString(username), C.GoString(password)))
}

// Logout clears the stored session.
//
//export Logout
func Logout() *C.char {
	return C.CString(core.Logout())
}

// SetOnline reports connectivity changes. Non-zero means online.
//
//export SetOnline
func SetOnline(online C.int) {
	core.SetOnline(online != 0)
}

// FreeString frees a string allocated by Go.
//
//export FreeString
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

func main() {
	// Main entry point for shared library
	// Not used when loaded as library
}
