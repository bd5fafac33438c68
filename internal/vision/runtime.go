package vision

import (
	"fmt"
	"os"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// InitRuntime initializes the shared ONNX Runtime environment. It must be
// called once before constructing an Extractor. The library path can be
// overridden with ONNXRUNTIME_LIB_PATH.
func InitRuntime() error {
	if ort.IsInitialized() {
		return nil
	}
	ort.SetSharedLibraryPath(sharedLibraryPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// DestroyRuntime tears down the shared environment after all sessions
// have been closed.
func DestroyRuntime() {
	if ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}

func sharedLibraryPath() string {
	if path := os.Getenv("ONNXRUNTIME_LIB_PATH"); path != "" {
		return path
	}
	switch runtime.GOOS {
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "/usr/lib/libonnxruntime.so"
	}
}
