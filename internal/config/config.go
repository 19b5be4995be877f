// Package config loads writer/watcher runtime configuration from the
// environment (with optional .env files) and CLI flags.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// IngestMode selects how the writer receives URLs.
type IngestMode string

const (
	IngestLineSocket IngestMode = "line"
	IngestReqRep     IngestMode = "reqrep"
	IngestSingleURL  IngestMode = "single"
)

// Writer holds the hive-writer daemon's configuration.
type Writer struct {
	ServerAccount  string
	PostingKey     string
	ControlAccount string
	UseTestNode    bool
	IgnoreErrors   bool

	Nodes []string

	Mode         IngestMode
	LineSocket   int
	ReqRepSocket int
	SingleURL    string

	ErrorInjectionPct int

	AdminPort int

	Quiet   bool
	Verbose bool
}

// Watcher holds the hive-watcher daemon's configuration.
type Watcher struct {
	Nodes []string

	// History-mode start selectors — at most one is meaningful; precedence
	// is Block > Epoch > StartDate > OldHours.
	Block     int64
	Epoch     int64
	StartDate string
	OldHours  float64
	StopAfter float64

	HistoryOnly bool
	Diagnostic  bool
	URLsOnly    bool
	JSON        bool

	ReportMinutes int

	ForwardLineAddr   string
	ForwardReqRepAddr string

	UseTestNode bool
	LiveTest    bool

	EnforceAllowList bool
	ControlAccount   string

	AdminPort int

	Quiet   bool
	Verbose bool
}

const (
	defaultProductionNode1 = "https://api.hive.blog"
	defaultProductionNode2 = "https://api.deathwing.me"
	defaultTestNode        = "https://testnet.openhive.network"
)

// LoadWriter reads writer configuration from the environment and CLI flags.
// Missing required env vars (HIVE_SERVER_ACCOUNT, HIVE_POSTING_KEY) return
// an error, except in single-URL mode (-u), where they are not checked.
func LoadWriter(args []string) (Writer, error) {
	loadDotEnv()

	fs := flag.NewFlagSet("podping-writer", flag.ContinueOnError)
	lineSocket := fs.Int("s", 0, "TCP line-socket port")
	reqRepSocket := fs.Int("z", 0, "request/reply socket port")
	oneShotURL := fs.String("u", "", "single URL to publish and exit")
	testnet := fs.Bool("t", false, "use the Hive testnet")
	errPct := fs.Int("e", 0, "inject retryable errors N%% of the time (id=podping only)")
	quiet := fs.Bool("q", false, "quiet logging")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return Writer{}, err
	}

	w := Writer{
		ServerAccount:     getEnv("HIVE_SERVER_ACCOUNT", ""),
		PostingKey:        getEnv("HIVE_POSTING_KEY", ""),
		ControlAccount:    getEnv("HIVE_CONTROL_ACCOUNT", "podping"),
		UseTestNode:       getEnvBool("USE_TEST_NODE", *testnet),
		IgnoreErrors:      getEnvBool("IGNORE_ERRORS", false),
		ErrorInjectionPct: *errPct,
		AdminPort:         getEnvInt("ADMIN_PORT", 9901),
		Quiet:             *quiet,
		Verbose:           *verbose,
	}

	if w.UseTestNode {
		w.Nodes = getEnvSlice("HIVE_NODES", []string{defaultTestNode})
	} else {
		w.Nodes = getEnvSlice("HIVE_NODES", []string{defaultProductionNode1, defaultProductionNode2})
	}

	switch {
	case *oneShotURL != "":
		w.Mode = IngestSingleURL
		w.SingleURL = *oneShotURL
	case *reqRepSocket != 0:
		w.Mode = IngestReqRep
		w.ReqRepSocket = *reqRepSocket
	case *lineSocket != 0:
		w.Mode = IngestLineSocket
		w.LineSocket = *lineSocket
	default:
		w.Mode = IngestLineSocket
		w.LineSocket = getEnvInt("LINE_SOCKET_PORT", 9999)
	}

	if w.Mode != IngestSingleURL {
		if w.ServerAccount == "" {
			return Writer{}, fmt.Errorf("config: HIVE_SERVER_ACCOUNT is required")
		}
		if w.PostingKey == "" {
			return Writer{}, fmt.Errorf("config: HIVE_POSTING_KEY is required")
		}
	}

	return w, nil
}

// LoadWatcher reads watcher configuration from the environment and CLI flags.
func LoadWatcher(args []string) (Watcher, error) {
	loadDotEnv()

	fs := flag.NewFlagSet("podping-watcher", flag.ContinueOnError)
	block := fs.Int64("b", 0, "start at this block number")
	epoch := fs.Int64("e", 0, "start at this unix epoch")
	startDate := fs.String("y", "", "start at this ISO-8601 date")
	old := fs.Float64("o", 0, "start this many hours back")
	stopAfter := fs.Float64("a", 0, "stop after this many hours")
	historyOnly := fs.Bool("H", false, "history mode only, no live tail")
	diagnostic := fs.Bool("d", false, "pass through diagnostic/startup operations")
	urlsOnly := fs.Bool("u", false, "stdout-urls output mode")
	jsonOut := fs.Bool("j", false, "stdout-json output mode")
	reportMin := fs.Int("r", 0, "status report interval in minutes (0 disables)")
	forwardLine := fs.String("s", "", "forward URLs to this host:port over a line socket")
	forwardReqRep := fs.String("z", "", "forward URLs to this endpoint over a request/reply socket")
	testnet := fs.Bool("t", false, "use the Hive testnet")
	liveTest := fs.Bool("l", false, "match the livetest operation id pattern")
	quiet := fs.Bool("q", false, "quiet logging")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return Watcher{}, err
	}

	wa := Watcher{
		Block:             *block,
		Epoch:             *epoch,
		StartDate:         *startDate,
		OldHours:          *old,
		StopAfter:         *stopAfter,
		HistoryOnly:       *historyOnly,
		Diagnostic:        *diagnostic,
		URLsOnly:          *urlsOnly,
		JSON:              *jsonOut,
		ReportMinutes:     *reportMin,
		ForwardLineAddr:   *forwardLine,
		ForwardReqRepAddr: *forwardReqRep,
		UseTestNode:       getEnvBool("USE_TEST_NODE", *testnet),
		LiveTest:          *liveTest,
		EnforceAllowList:  getEnvBool("ENFORCE_ALLOW_LIST", false),
		ControlAccount:    getEnv("HIVE_CONTROL_ACCOUNT", "podping"),
		AdminPort:         getEnvInt("ADMIN_PORT", 9902),
		Quiet:             *quiet,
		Verbose:           *verbose,
	}

	if wa.UseTestNode {
		wa.Nodes = getEnvSlice("HIVE_NODES", []string{defaultTestNode})
	} else {
		wa.Nodes = getEnvSlice("HIVE_NODES", []string{defaultProductionNode1, defaultProductionNode2})
	}

	return wa, nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env")
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || v == "true"
	}
	return def
}

func getEnvSlice(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// BlockInterval is the Hive chain's nominal block production cadence.
const BlockInterval = 3 * time.Second
