package helpers

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"go.uber.org/zap"
)

// PreallocateFile extends file by length bytes starting at offset, asking
// the filesystem to back the range with real blocks. Filesystems without
// fallocate support fall back to a plain truncate.
func PreallocateFile(file *os.File, offset, length int64) error {
	if length <= 0 {
		return nil
	}
	err := unix.Fallocate(int(file.Fd()), 0, offset, length)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		if terr := file.Truncate(offset + length); terr != nil {
			return fmt.Errorf("error growing file %s: %w", file.Name(), terr)
		}
		return nil
	}
	return fmt.Errorf("error preallocating %d bytes in %s: %w", length, file.Name(), err)
}

// DeleteDataFile deletes a file
func DeleteDataFile(filePath string) error {
	return os.Remove(filePath)
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string, logger *zap.SugaredLogger) bool {
	info, err := os.Stat(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return false // File does not exist
		}
		if logger != nil {
			logger.Infof("Error checking file %s for existence: %s\n", filename, err)
		}
		return false // Some other error occurred
	}
	return !info.IsDir() // Return true if it's not a directory
}
