//go:build darwin && cgo

package sleep

/*
#cgo LDFLAGS: -framework IOKit -framework CoreFoundation

#include <IOKit/pwr_mgt/IOPMLib.h>
#include <IOKit/IOMessage.h>
#include <CoreFoundation/CoreFoundation.h>

extern void goPowerCallback(int messageType);

static io_connect_t rootPort;
static IONotificationPortRef notifyPortRef;
static io_object_t notifierObject;

// 1 = sleep, 2 = wake
static void powerCallbackC(void *refCon, io_service_t service, natural_t messageType, void *messageArgument) {
	switch (messageType) {
	case kIOMessageCanSystemSleep:
		IOAllowPowerChange(rootPort, (long)messageArgument);
		break;
	case kIOMessageSystemWillSleep:
		goPowerCallback(1);
		IOAllowPowerChange(rootPort, (long)messageArgument);
		break;
	case kIOMessageSystemHasPoweredOn:
		goPowerCallback(2);
		break;
	}
}

static int registerPowerCallbacks(void) {
	rootPort = IORegisterForSystemPower(NULL, &notifyPortRef, powerCallbackC, &notifierObject);
	if (rootPort == 0) {
		return -1;
	}
	CFRunLoopAddSource(CFRunLoopGetCurrent(), IONotificationPortGetRunLoopSource(notifyPortRef), kCFRunLoopDefaultMode);
	return 0;
}

static void deregisterPowerCallbacks(void) {
	CFRunLoopRemoveSource(CFRunLoopGetCurrent(), IONotificationPortGetRunLoopSource(notifyPortRef), kCFRunLoopDefaultMode);
	IODeregisterForSystemPower(&notifierObject);
	IOServiceClose(rootPort);
	IONotificationPortDestroy(notifyPortRef);
}

static void runRunLoop(void) {
	CFRunLoopRun();
}

static void stopRunLoop(CFRunLoopRef rl) {
	CFRunLoopStop(rl);
}
*/
import "C"

import (
	"context"
	"runtime"
	"sync"
)

var (
	activeMonitor *Monitor
	activeMu      sync.Mutex
)

//export goPowerCallback
func goPowerCallback(messageType C.int) {
	activeMu.Lock()
	m := activeMonitor
	activeMu.Unlock()

	if m == nil {
		return
	}

	switch messageType {
	case 1:
		m.markSleep()
	case 2:
		m.markWake()
	}
}

// Start listens for system power notifications through IOKit
func (m *Monitor) Start(ctx context.Context) {
	activeMu.Lock()
	activeMonitor = m
	activeMu.Unlock()

	go func() {
		// The run loop belongs to this OS thread
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if ret := C.registerPowerCallbacks(); ret != 0 {
			m.logger.Error("Failed to register for system power notifications")
			return
		}

		rl := C.CFRunLoopGetCurrent()
		go func() {
			<-ctx.Done()
			C.stopRunLoop(rl)
		}()

		C.runRunLoop()
		C.deregisterPowerCallbacks()

		activeMu.Lock()
		activeMonitor = nil
		activeMu.Unlock()

		m.logger.Debug("Sleep monitor stopped")
	}()

	m.logger.Debug("Sleep monitor started (IOKit)")
}
