package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/usnistgov/benchd"
	"github.com/usnistgov/benchd/internal/rundb"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("Verbose", false)
	viper.SetDefault("OpenCSV", false)

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotBenchd := filepath.Join(home, ".benchd")
	viper.SetDefault("CSVDir", filepath.Join(dotBenchd, "results"))
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotBenchd, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/benchd"))
	viper.AddConfigPath(dotBenchd)
	viper.AddConfigPath(".")
	err = viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		msg := fmt.Sprintf("Could not open log file '%s'", pfname)
		panic(msg)
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	benchd.Build.Date = buildDate
	benchd.Build.Githash = githash
	benchd.Build.Gitdate = gitdate
	benchd.Build.Summary = fmt.Sprintf("BENCHD version %s (git commit %s of %s)", benchd.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		benchd.Build.Host = host
	} else {
		benchd.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is BENCHD version %s\n", benchd.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is BENCHD version %s (git commit %s)\n", benchd.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Start logging problems and updates to 2 log files.
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(home, ".benchd", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	benchd.ProblemLogger = startLogger(problemname)
	benchd.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging client updates to %s\n\n", logname)
	benchd.UpdateLogger.Printf("\n\n\n\n%s", banner)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		panic(err)
	}

	// Probe optional collaborators exactly once.
	caps := benchd.DetectCapabilities()
	fmt.Printf("ZMQ publishing available:  %t\n", caps.Publisher)
	fmt.Printf("Run database available:    %t\n", caps.RunDatabase)
	fmt.Printf("Serial ports detected:     %v\n", caps.SerialPorts)

	abort := make(chan struct{})
	activity := &rundb.ActivityMessage{
		ID:        rundb.NewID(),
		Hostname:  benchd.Build.Host,
		Githash:   githash,
		Version:   benchd.Build.Version,
		GoVersion: runtime.Version(),
		CPUs:      runtime.NumCPU(),
		Start:     benchd.BenchdStartTime,
	}
	var db *rundb.Connection
	if caps.RunDatabase {
		db = rundb.StartConnection(activity, abort)
	} else {
		db = &rundb.Connection{}
	}

	messageChan := make(chan benchd.ClientUpdate, 10)
	if caps.Publisher {
		go benchd.RunClientUpdater(messageChan, benchd.Ports.Status, abort)
	} else {
		go drainUpdates(messageChan, abort)
	}

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", benchd.Ports.Metrics), nil); err != nil {
			benchd.ProblemLogger.Printf("metrics server stopped: %v", err)
		}
	}()

	benchd.RunRPCServer(messageChan, benchd.Ports.RPC, caps, db, activity.ID)
	close(abort)
	writeMemoryProfile(memprofile)
}

// drainUpdates keeps the message channel from filling when no publisher is
// available.
func drainUpdates(messages <-chan benchd.ClientUpdate, abort <-chan struct{}) {
	for {
		select {
		case <-abort:
			return
		case <-messages:
		}
	}
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}

	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
