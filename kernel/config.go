package kernel

import (
	"errors"
	"io/ioutil"
	"os"

	"github.com/gravwell/gcfg"

	"github.com/coursekernel/proclab/internal/klog"
	"github.com/coursekernel/proclab/kernel/proc"
	"github.com/coursekernel/proclab/kernel/sched"
)

const maxConfigSize int64 = 1024 * 1024

// globalCfg mirrors xv6's compile-time param.h #defines, made
// runtime-configurable the way manager/config.go's cfgType.Global makes
// process-supervision policy configurable.
type globalCfg struct {
	NPROC    int
	NOFILE   int
	Max_MMR  int
	NSEM     int
	NCPU     int
	Policy   string // "RR" or "MLFQ"
	TSticks_High   int
	TSticks_Medium int
	TSticks_Low    int
	Log_File  string
	Log_Level string
}

type cfgType struct {
	Global globalCfg
}

// Config is the validated, Go-native form of cfgType: the one struct
// kernel.Boot consumes.
type Config struct {
	NProc      int
	NOFile     int
	MaxMMR     int
	NSem       int
	NCPU       int
	Policy     sched.Policy
	Timeslices [proc.NumPriorities]int
	LogFile    string
	LogLevel   klog.Level
}

var (
	ErrNoConfigFile  = errors.New("kernel: config file too large or unreadable")
	ErrInvalidPolicy = errors.New("kernel: Policy must be RR or MLFQ")
)

// defaults mirror param.h's usual teaching-kernel values.
func defaultGlobal() globalCfg {
	return globalCfg{
		NPROC: 64, NOFILE: 16, Max_MMR: 16, NSEM: 16, NCPU: 4,
		Policy:         "RR",
		TSticks_High:   4,
		TSticks_Medium: 8,
		TSticks_Low:    16,
		Log_Level:      "INFO",
	}
}

// LoadConfig reads and validates an INI-style kernel.cfg, adapted from
// manager/config.go's GetConfig: read the whole file (bounded by
// maxConfigSize, the same sanity check), parse with gcfg, then translate
// into the Config Boot actually consumes.
func LoadConfig(path string) (Config, error) {
	c := cfgType{Global: defaultGlobal()}

	fin, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer fin.Close()
	fi, err := fin.Stat()
	if err != nil {
		return Config{}, err
	}
	if fi.Size() > maxConfigSize {
		return Config{}, ErrNoConfigFile
	}
	data, err := ioutil.ReadAll(fin)
	if err != nil {
		return Config{}, err
	}
	if err := gcfg.ReadStringInto(&c, string(data)); err != nil {
		return Config{}, err
	}
	return c.resolve()
}

func (c cfgType) resolve() (Config, error) {
	var policy sched.Policy
	switch c.Global.Policy {
	case "RR", "":
		policy = sched.RR
	case "MLFQ":
		policy = sched.MLFQ
	default:
		return Config{}, ErrInvalidPolicy
	}

	lvl, err := levelFromString(c.Global.Log_Level)
	if err != nil {
		return Config{}, err
	}

	return Config{
		NProc:   orDefault(c.Global.NPROC, 64),
		NOFile:  orDefault(c.Global.NOFILE, 16),
		MaxMMR:  orDefault(c.Global.Max_MMR, 16),
		NSem:    orDefault(c.Global.NSEM, 16),
		NCPU:    orDefault(c.Global.NCPU, 4),
		Policy:  policy,
		Timeslices: [proc.NumPriorities]int{
			proc.High:   orDefault(c.Global.TSticks_High, 4),
			proc.Medium: orDefault(c.Global.TSticks_Medium, 8),
			proc.Low:    orDefault(c.Global.TSticks_Low, 16),
		},
		LogFile:  c.Global.Log_File,
		LogLevel: lvl,
	}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func levelFromString(s string) (klog.Level, error) {
	switch s {
	case "", "INFO":
		return klog.INFO, nil
	case "OFF":
		return klog.OFF, nil
	case "DEBUG":
		return klog.DEBUG, nil
	case "WARN":
		return klog.WARN, nil
	case "ERROR":
		return klog.ERROR, nil
	case "FATAL":
		return klog.FATAL, nil
	default:
		return klog.OFF, errors.New("kernel: invalid Log_Level " + s)
	}
}

// Logger builds the configured logger: a discard logger if LogFile is
// empty, matching GetLogger's "no log file configured" behavior.
func (c Config) Logger() (*klog.Logger, error) {
	if c.LogFile == "" {
		return klog.NewDiscard(), nil
	}
	l, err := klog.NewFile(c.LogFile)
	if err != nil {
		return nil, err
	}
	l.SetLevel(c.LogLevel)
	return l, nil
}
