// Package dyadctx holds the per-process coordination context: configuration
// read from the environment, the lifecycle that opens and releases the
// transport handle, and the re-entrancy flag threaded through every hook
// body as a context.Context value instead of thread-local storage.
package dyadctx

import (
	"os"
	"strconv"
)

// Config is the environment-derived configuration a Coordinator is built
// from, one field per variable in the external-interfaces table.
type Config struct {
	ConsumerPrefix string
	ProducerPrefix string
	KindProd       bool
	KindCons       bool

	KVSNamespace string
	KeyDepth     uint32
	KeyBins      uint32

	SharedStorage bool
	Debug         bool
	Check         bool

	// SyncStart is the N in DYAD_SYNC_START=N; zero means no startup
	// barrier is taken.
	SyncStart int

	// SyncDir mirrors DYAD_SYNC_DIR: when true, the interposer also
	// fsyncs the parent directory through the real symbols on close.
	SyncDir bool
}

const (
	defaultKeyDepth = 3
	defaultKeyBins  = 1024
)

// LoadConfigFromEnv reads every recognized DYAD_* variable, applying the
// documented defaults for key depth and bins.
func LoadConfigFromEnv() Config {
	return Config{
		ConsumerPrefix: os.Getenv("DYAD_PATH_CONS"),
		ProducerPrefix: os.Getenv("DYAD_PATH_PROD"),
		KindProd:       envTruthyInt("DYAD_KIND_PROD"),
		KindCons:       envTruthyInt("DYAD_KIND_CONS"),

		KVSNamespace: os.Getenv("DYAD_KVS_NAMESPACE"),
		KeyDepth:     envUint32("DYAD_KEY_DEPTH", defaultKeyDepth),
		KeyBins:      envUint32("DYAD_KEY_BINS", defaultKeyBins),

		SharedStorage: envSet("DYAD_SHARED_STORAGE"),
		Debug:         envSet("DYAD_SYNC_DEBUG"),
		Check:         envSet("DYAD_SYNC_CHECK"),

		SyncStart: envInt("DYAD_SYNC_START", 0),
		SyncDir:   envSet("DYAD_SYNC_DIR"),
	}
}

// envSet reports whether name is set to any non-empty value, the "enable:
// any value" convention DYAD_SHARED_STORAGE and friends use.
func envSet(name string) bool {
	return os.Getenv(name) != ""
}

// envTruthyInt reports whether name parses as a non-zero integer, the
// "non-zero: enabled" convention DYAD_KIND_PROD/DYAD_KIND_CONS use.
func envTruthyInt(name string) bool {
	v, err := strconv.Atoi(os.Getenv(name))
	return err == nil && v != 0
}

func envInt(name string, def int) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return def
	}
	return v
}

func envUint32(name string, def uint32) uint32 {
	v, err := strconv.ParseUint(os.Getenv(name), 10, 32)
	if err != nil {
		return def
	}
	return uint32(v)
}
