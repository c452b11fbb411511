package settings

import "sync"

type Arguments struct {
	DataFile string // Path of the store file to operate on

	Command string // create, validate, stats

	PageSize        int64 // Page size for newly created stores
	InitialCapacity int64 // Page capacity for newly created stores

	CacheSize int    // Page cache capacity; not read by any command, stores are opened uncached
	CacheMode string // writethrough, writeback; not read by any command

	ReadOnly bool // Open the store read-only

	Debug   bool // Debug mode
	Verbose bool // Strongly verbose logging

	PrintToScreen bool // Print to screen

	Version string // Show version information
}

var (
	instance *Arguments
	once     sync.Once
	mu       sync.RWMutex
)

// GetSettings returns the global settings instance
func GetSettings() *Arguments {
	once.Do(func() {
		instance = &Arguments{
			// Default values
			DataFile:        "./pagevault.db",
			Command:         "stats",
			PageSize:        8192,
			InitialCapacity: 16,
			CacheSize:       128,
			CacheMode:       "writethrough",
			ReadOnly:        false,
			Verbose:         false,
			Version:         "0.1.0",
		}
	})
	return instance
}

// UpdateSettings updates the global settings with new values
func UpdateSettings(args Arguments) {
	mu.Lock()
	defer mu.Unlock()

	// Only update non-empty/non-zero values
	if args.DataFile != "" {
		instance.DataFile = args.DataFile
	}
	if args.Command != "" {
		instance.Command = args.Command
	}
	if args.PageSize != 0 {
		instance.PageSize = args.PageSize
	}
	if args.InitialCapacity != 0 {
		instance.InitialCapacity = args.InitialCapacity
	}
	if args.CacheSize != 0 {
		instance.CacheSize = args.CacheSize
	}
	if args.CacheMode != "" {
		instance.CacheMode = args.CacheMode
	}

	// Boolean flags need special handling since false is a valid value
	instance.ReadOnly = args.ReadOnly
	instance.Verbose = args.Verbose
	instance.Debug = args.Debug

	if args.Version != "" {
		instance.Version = args.Version
	}
}
