package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"pagevault/src/helpers"
	"pagevault/src/settings"
	"pagevault/src/storage"
)

// printUsage prints helpful usage information
func printUsage() {
	log.Println("pagevault - embedded page store maintenance tool")
	log.Println("\nUsage:")
	log.Println("  pagevault [options]")
	log.Println("\nOptions:")
	flag.PrintDefaults()

	log.Println("\nExamples:")
	log.Println("  pagevault --file=data.pv --command=create --pagesize=8192 --capacity=64")
	log.Println("  pagevault --file=data.pv --command=validate --readonly")
	log.Println("  pagevault --file=data.pv --command=stats")
}

func main() {
	// Get the global settings instance
	args := settings.GetSettings()

	// Define command line flags that map to the Arguments struct
	flag.StringVar(&args.DataFile, "file", "./pagevault.db", "Path of the store file")
	flag.StringVar(&args.Command, "command", "stats", "Operation to run (create, validate, stats)")
	flag.Int64Var(&args.PageSize, "pagesize", 8192, "Page size for created stores")
	flag.Int64Var(&args.InitialCapacity, "capacity", 16, "Initial page capacity for created stores")
	flag.IntVar(&args.CacheSize, "cachesize", 128, "Page cache capacity (accepted; the commands open the store without a cache)")
	flag.StringVar(&args.CacheMode, "cachemode", "writethrough", "Cache write policy (writethrough, writeback; accepted, not used by the commands)")
	flag.BoolVar(&args.ReadOnly, "readonly", false, "Open the store read-only")
	flag.BoolVar(&args.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&args.Debug, "debug", false, "Enable debug mode")
	flag.BoolVar(&args.PrintToScreen, "print", true, "Print log messages to screen")
	flag.StringVar(&args.Version, "version", "0.1.0", "Shows version")

	// Parse the command line
	flag.Parse()

	// Validate the arguments
	if err := validateArguments(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		printUsage()
		os.Exit(1)
	}

	logger, err := initLogger(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if args.Verbose {
		sugar.Infof("pagevault %s starting with options:", args.Version)
		sugar.Infof("  Data file: %s", args.DataFile)
		sugar.Infof("  Command: %s", args.Command)
		sugar.Infof("  Read only: %v", args.ReadOnly)
	}

	if err := run(args, sugar); err != nil {
		sugar.Errorf("%s failed: %v", args.Command, err)
		os.Exit(1)
	}
}

// initLogger builds the zap logger used by every component.
func initLogger(args *settings.Arguments) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	if args.Debug {
		// Development configuration with more verbose output
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stdout"}
		logger, err = z.Build()
	} else {
		// Production configuration
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func validateArguments(args *settings.Arguments) error {
	if args.DataFile == "" {
		return fmt.Errorf("a data file is required")
	}
	switch args.Command {
	case "create", "validate", "stats":
	default:
		return fmt.Errorf("unknown command %q", args.Command)
	}
	if args.Command == "create" {
		if args.PageSize < storage.MinPageSize {
			return fmt.Errorf("page size must be at least %d", storage.MinPageSize)
		}
		if args.InitialCapacity < 0 {
			return fmt.Errorf("capacity cannot be negative")
		}
	}
	if args.Command != "create" && !helpers.FileExists(args.DataFile, nil) {
		return fmt.Errorf("store file %s does not exist", args.DataFile)
	}
	return nil
}

func run(args *settings.Arguments, sugar *zap.SugaredLogger) error {
	ctx := context.Background()

	switch args.Command {
	case "create":
		return runCreate(ctx, args, sugar)
	case "validate":
		return runValidate(ctx, args, sugar)
	case "stats":
		return runStats(args, sugar)
	}
	return nil
}

func runCreate(ctx context.Context, args *settings.Arguments, sugar *zap.SugaredLogger) error {
	medium, err := storage.CreateFileMedium(args.DataFile)
	if err != nil {
		return err
	}
	store, err := storage.CreateStreamingPageStorage(ctx, storage.CreateOptions{
		Medium:          medium,
		PageSize:        args.PageSize,
		InitialCapacity: args.InitialCapacity,
		Progress: func(current, total int64) {
			if args.Verbose {
				sugar.Debugf("create: %d of %d bytes", current, total)
			}
		},
		Logger: sugar,
	})
	if err != nil {
		medium.Close()
		return err
	}
	sugar.Infof("Created %s: pageSize=%d capacity=%d (%d bytes)",
		args.DataFile, store.PageSize(), store.PageCapacity(),
		storage.RequiredMediumSize(store.PageSize(), store.PageCapacity()))
	return store.Close()
}

func openStore(args *settings.Arguments, sugar *zap.SugaredLogger) (*storage.StreamingPageStorage, error) {
	medium, err := storage.OpenFileMedium(args.DataFile, args.ReadOnly)
	if err != nil {
		return nil, err
	}
	store, err := storage.LoadStreamingPageStorage(storage.LoadOptions{
		Medium:        medium,
		ReadOnly:      args.ReadOnly,
		FixedCapacity: true,
		Logger:        sugar,
	})
	if err != nil {
		medium.Close()
		return nil, err
	}
	return store, nil
}

func runValidate(ctx context.Context, args *settings.Arguments, sugar *zap.SugaredLogger) error {
	store, err := openStore(args, sugar)
	if err != nil {
		return err
	}
	defer store.Close()

	ok, err := store.Validate(ctx, func(current, total int64) {
		if args.Verbose {
			sugar.Debugf("validate: page %d of %d", current, total)
		}
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("validation was cancelled")
	}
	sugar.Infof("%s is consistent: %d of %d pages allocated", args.DataFile, store.AllocatedPageCount(), store.PageCapacity())

	// The entry page belongs to whatever structure the owning application
	// put there; its key order and slot geometry are not recorded in the
	// file, so only that application can validate past this point.
	if entry := store.EntryPageIndex(); entry != storage.NoPageIndex {
		if !store.IsPageAllocated(entry) {
			return fmt.Errorf("entry page %d is not allocated", entry)
		}
		sugar.Infof("Entry page %d is allocated; validate its contents with the owning application", entry)
	}
	return nil
}

func runStats(args *settings.Arguments, sugar *zap.SugaredLogger) error {
	store, err := openStore(args, sugar)
	if err != nil {
		return err
	}
	defer store.Close()

	entry := "none"
	if index := store.EntryPageIndex(); index != storage.NoPageIndex {
		entry = fmt.Sprintf("%d", index)
	}
	sugar.Infof("Store %s", args.DataFile)
	sugar.Infof("  Page size: %d", store.PageSize())
	sugar.Infof("  Page capacity: %d", store.PageCapacity())
	sugar.Infof("  Allocated pages: %d", store.AllocatedPageCount())
	sugar.Infof("  Entry page: %s", entry)
	sugar.Infof("  Required bytes: %d", storage.RequiredMediumSize(store.PageSize(), store.PageCapacity()))
	return nil
}
