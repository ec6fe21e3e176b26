// Command proclabd boots one instance of the process-management core and
// keeps its per-CPU scheduler loops running until a shutdown signal
// arrives. Adapted from manager/main.go's boot sequence (load config,
// build the logger, start the supervised units, wait for a quit signal,
// shut down cleanly) generalized from supervising external processes to
// supervising per-CPU scheduler loops.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/coursekernel/proclab/internal/klog"
	"github.com/coursekernel/proclab/internal/shutdown"
	"github.com/coursekernel/proclab/internal/version"
	"github.com/coursekernel/proclab/kernel"
)

const defConfigLoc = `/etc/proclab/kernel.cfg`

var (
	cfgFlag     = flag.String("config", defConfigLoc, "path to kernel.cfg")
	auditFlag   = flag.String("audit-db", "", "path to the audit snapshot database (empty disables persistence)")
	baseFlag    = flag.String("base-dir", "/var/run/proclab", "directory holding the boot lock file")
	versionFlag = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *versionFlag {
		version.Print(os.Stdout)
		return
	}

	if err := os.MkdirAll(*baseFlag, 0755); err != nil {
		log.Fatalf("proclabd: cannot create base dir: %v", err)
	}

	// One kernel instance per base-dir, the way a real kernel owns its boot
	// exactly once: a second proclabd pointed at the same base-dir refuses
	// to start rather than racing the first for the process table.
	lockPath := *baseFlag + "/boot.lock"
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		log.Fatalf("proclabd: failed to acquire boot lock: %v", err)
	}
	if !locked {
		log.Fatalf("proclabd: another instance already owns %s", *baseFlag)
	}
	defer fl.Unlock()

	cfg, err := kernel.LoadConfig(*cfgFlag)
	if err != nil {
		log.Fatalf("proclabd: failed to load config %s: %v", *cfgFlag, err)
	}

	k, err := kernel.Boot(cfg, *auditFlag)
	if err != nil {
		log.Fatalf("proclabd: boot failed: %v", err)
	}
	defer k.Close()

	ref := &selfRef{}
	self, err := k.UserInit(initBody(k, ref))
	if err != nil {
		k.Log.Fatal("userinit failed", klog.KVErr(err))
	}
	ref.p = self

	stopClock := make(chan struct{})
	startClock(k, 5*time.Millisecond, stopClock)
	defer close(stopClock)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := <-shutdown.Channel()
		k.Log.Info("received shutdown signal", klog.KV("signal", sig.String()))
		cancel()
	}()

	if err := k.Run(ctx); err != nil && err != context.Canceled {
		k.Log.Error("scheduler group exited with error", klog.KVErr(err))
	}
}
