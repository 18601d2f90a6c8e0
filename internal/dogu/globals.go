package dogu

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gookit/color"
)

// GLOBAL STATE
// We use a value of 1 for critical and 0 for non-critical/default.
var isCriticalAtomic atomic.Int32

// Global variables
var (
	RootDir      string // install root for everything dogu manages
	ToolsDir     string // RootDir/tools: CLIs and build tools
	LangDir      string // RootDir/lang: language runtimes
	IdeDir       string // RootDir/ide: editors and IDEs
	CacheDir     string // download cache, finalized artifacts only
	StateFile    string // RootDir/state.json
	ConfigDir    string
	ConfigFile   string
	EnvFile      string // managed shell fragment sourced from the user's profile
	Debug        bool
	ProbeTimeout time.Duration

	MirrorEndpoint  string
	MirrorBucket    string
	MirrorAccessKey string
	MirrorSecretKey string

	version   = "dev" //default version; overridden at build time
	arch      = runtime.GOARCH
	buildDate = "unknown" // overridden at build time

	// Global executors (assigned in Main)
	UserExec *Executor
	RootExec *Executor
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
